package engine

import "testing"

func TestTokenParser(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		min     int
		latency float64
		fields  string
		reason  ParseErrorReason
	}{
		{"access log", "GET /a 200 0.010", 1, 0.010, "GET /a 200", ""},
		{"integer", "GET /a 200 3", 1, 3, "GET /a 200", ""},
		{"leading dot", "x .5", 1, 0.5, "x", ""},
		{"trailing dot", "x 5.", 1, 5, "x", ""},
		{"plus sign", "x +0.25", 1, 0.25, "x", ""},
		{"zero", "x 0", 1, 0, "x", ""},
		{"tabs and padding", "  GET\t/a   0.2  ", 1, 0.2, "GET\t/a", ""},
		{"latency only", "0.7", 1, 0.7, "", ""},
		{"malformed", "malformed", 1, 0, "", ReasonNotNumeric},
		{"empty", "", 1, 0, "", ReasonMissingField},
		{"blank", "   \t ", 1, 0, "", ReasonMissingField},
		{"too few tokens", "GET 0.1", 3, 0, "", ReasonMissingField},
		{"negative", "GET /a 200 -1", 1, 0, "", ReasonNegativeValue},
		{"negative zero fraction", "GET -0.5", 1, 0, "", ReasonNegativeValue},
		{"exponent", "GET 1e3", 1, 0, "", ReasonNotNumeric},
		{"hex", "GET 0x10", 1, 0, "", ReasonNotNumeric},
		{"inf", "GET inf", 1, 0, "", ReasonNotNumeric},
		{"nan", "GET NaN", 1, 0, "", ReasonNotNumeric},
		{"separator", "GET 1_000", 1, 0, "", ReasonNotNumeric},
		{"lone dot", "GET .", 1, 0, "", ReasonNotNumeric},
		{"unit suffix", "GET 12ms", 1, 0, "", ReasonNotNumeric},
		{"latency not last", "GET 0.1 /a", 1, 0, "", ReasonNotNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, perr := TokenParser{MinTokens: tt.min}.Parse(tt.line, 2, 9)
			if tt.reason != "" {
				if perr == nil {
					t.Fatalf("expected %s, got record %+v", tt.reason, rec)
				}
				if perr.Reason != tt.reason {
					t.Errorf("reason = %s, want %s", perr.Reason, tt.reason)
				}
				if perr.Shard != 2 || perr.LineNo != 9 {
					t.Errorf("position = %d:%d, want 2:9", perr.Shard, perr.LineNo)
				}
				return
			}
			if perr != nil {
				t.Fatalf("unexpected error: %v", perr)
			}
			if rec.Latency != tt.latency {
				t.Errorf("latency = %v, want %v", rec.Latency, tt.latency)
			}
			if rec.Fields != tt.fields {
				t.Errorf("fields = %q, want %q", rec.Fields, tt.fields)
			}
			if rec.Raw != tt.line {
				t.Errorf("raw = %q, want %q", rec.Raw, tt.line)
			}
		})
	}
}

func TestParseErrorTruncatesLine(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	_, perr := TokenParser{}.Parse(string(long), 0, 1)
	if perr == nil {
		t.Fatal("expected parse error")
	}
	if len(perr.Line) != maxErrorLine {
		t.Errorf("kept %d bytes, want %d", len(perr.Line), maxErrorLine)
	}
}

func TestJSONParser(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		line    string
		latency float64
		reason  ParseErrorReason
	}{
		{"number", "", `{"request_time":0.25,"uri":"/a"}`, 0.25, ""},
		{"string", "", `{"request_time":"0.300"}`, 0.3, ""},
		{"custom field", "upstream", `{"upstream":2}`, 2, ""},
		{"missing field", "", `{"uri":"/a"}`, 0, ReasonMissingField},
		{"not json", "", `GET /a 200 0.1`, 0, ReasonMissingField},
		{"array", "", `[1,2]`, 0, ReasonMissingField},
		{"bool", "", `{"request_time":true}`, 0, ReasonNotNumeric},
		{"bad string", "", `{"request_time":"-"}`, 0, ReasonNotNumeric},
		{"exponent", "", `{"request_time":1e2}`, 0, ReasonNotNumeric},
		{"negative", "", `{"request_time":-0.1}`, 0, ReasonNegativeValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, perr := NewJSONParser(tt.field).Parse(tt.line, 0, 1)
			if tt.reason != "" {
				if perr == nil || perr.Reason != tt.reason {
					t.Fatalf("got %v, want %s", perr, tt.reason)
				}
				return
			}
			if perr != nil {
				t.Fatalf("unexpected error: %v", perr)
			}
			if rec.Latency != tt.latency {
				t.Errorf("latency = %v, want %v", rec.Latency, tt.latency)
			}
		})
	}
}

func TestConfigSelectsParser(t *testing.T) {
	cfg := DefaultConfig()
	if _, ok := cfg.NewParser().(TokenParser); !ok {
		t.Errorf("text format should use TokenParser")
	}
	cfg.Format = FormatJSON
	p, ok := cfg.NewParser().(*JSONParser)
	if !ok {
		t.Fatalf("json format should use JSONParser")
	}
	if p.Field != DefaultJSONField {
		t.Errorf("field = %q, want %q", p.Field, DefaultJSONField)
	}
}
