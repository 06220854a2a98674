package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// UnresolvedNameError is returned when a contract name has no deployment.
// It indicates a misconfigured environment.
type UnresolvedNameError struct {
	Name string
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("unresolved contract name %q", e.Name)
}

// UnsupportedActorError is returned when an address cannot be impersonated,
// or when an operation presents a capability the environment did not issue.
type UnsupportedActorError struct {
	Address common.Address
	Reason  string
}

func (e *UnsupportedActorError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported actor %s: %s", e.Address.Hex(), e.Reason)
	}
	return fmt.Sprintf("unsupported actor %s", e.Address.Hex())
}

// StaleCheckpointError is returned when reverting to a checkpoint that is
// not part of the current lineage (unknown or already consumed).
type StaleCheckpointError struct {
	Checkpoint Checkpoint
}

func (e *StaleCheckpointError) Error() string {
	return fmt.Sprintf("stale checkpoint %q", string(e.Checkpoint))
}

// RevertError is returned when an operation was rejected by the
// environment's execution rules.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// IsFatal reports whether err must abort a whole suite rather than only
// the current test. Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var (
		unresolved *UnresolvedNameError
		actor      *UnsupportedActorError
		stale      *StaleCheckpointError
	)
	return errors.As(err, &unresolved) || errors.As(err, &actor) || errors.As(err, &stale)
}

// RevertReason returns the reason of a wrapped *RevertError.
func RevertReason(err error) (string, bool) {
	var re *RevertError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
