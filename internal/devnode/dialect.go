package devnode

import "fmt"

// Dialect selects the namespace of the node's cheat methods.
type Dialect string

const (
	DialectHardhat Dialect = "hardhat"
	DialectAnvil   Dialect = "anvil"
)

// ParseDialect validates a dialect name. Empty means DialectHardhat.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case "", DialectHardhat:
		return DialectHardhat, nil
	case DialectAnvil:
		return DialectAnvil, nil
	default:
		return "", fmt.Errorf("unknown dialect %q: must be %q or %q", s, DialectHardhat, DialectAnvil)
	}
}

func (d Dialect) method(name string) string {
	return string(d) + "_" + name
}
