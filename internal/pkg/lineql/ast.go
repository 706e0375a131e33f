package lineql

// Node is the interface implemented by all AST nodes.
type Node interface {
	node()
}

// BinaryExpr joins two expressions with AND or OR.
type BinaryExpr struct {
	Op    string
	Left  Node
	Right Node
}

func (BinaryExpr) node() {}

// MatchExpr compares one key of a record with a value.
// An empty Key means a substring search over the whole line.
type MatchExpr struct {
	Key   string
	Value string
	Op    string // "=", "!=", ">", ">=", "<", "<=", "CONTAINS"
}

func (MatchExpr) node() {}

// NotExpr negates its inner expression.
type NotExpr struct {
	Expr Node
}

func (NotExpr) node() {}
