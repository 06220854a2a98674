package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/forkharness/internal/chain"
	"github.com/roach88/forkharness/internal/testutil"
)

var (
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("suite already initialized")

	// ErrNotInitialized is returned when an operation needs a ready suite.
	ErrNotInitialized = errors.New("suite not initialized")

	// ErrAborted is returned once a fatal error has left the suite unusable.
	ErrAborted = errors.New("suite aborted")
)

type suiteState int

const (
	stateUninitialized suiteState = iota
	stateReady
	stateAborted
)

// ActorConfig declares a privileged actor the suite sets up in Initialize.
type ActorConfig struct {
	Role    string
	Address common.Address

	// Fund is the minimum balance the actor starts every test with.
	// Nil means the actor is not funded.
	Fund *big.Int
}

// Config configures a Suite.
type Config struct {
	// Name labels reports and logs.
	Name string

	// Env is the environment the suite drives. The suite does not close it.
	Env chain.Environment

	// Handles maps a role (for example "treasury") to a deployment name.
	Handles map[string]string

	// Actors are impersonated and funded once, before the first test.
	Actors []ActorConfig

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Suite owns the checkpoint of one environment and runs tests against it
// in isolation. Every test starts from the state captured at the end of
// Initialize.
//
// A Suite is safe for use from multiple goroutines, but tests are always
// run one at a time.
type Suite struct {
	name   string
	env    chain.Environment
	cfg    Config
	logger *slog.Logger
	clock  *testutil.DeterministicClock

	// run serializes Initialize and RunIsolated.
	run sync.Mutex

	// mu guards everything below. It is never held while a test body runs.
	mu         sync.Mutex
	state      suiteState
	initCalled bool
	checkpoint chain.Checkpoint
	handles    map[string]common.Address
	actors     map[string]*Actor // by role, fixed after Initialize
	epoch      map[common.Address]*Actor
	baseline   map[common.Address]*Actor
	labels     map[common.Address]string
	current    *T
}

// New creates an uninitialized suite.
func New(cfg Config) *Suite {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Suite{
		name:     cfg.Name,
		env:      cfg.Env,
		cfg:      cfg,
		logger:   logger,
		clock:    testutil.NewDeterministicClock(),
		handles:  make(map[string]common.Address),
		actors:   make(map[string]*Actor),
		epoch:    make(map[common.Address]*Actor),
		baseline: make(map[common.Address]*Actor),
		labels:   make(map[common.Address]string),
	}
}

// Name returns the configured suite name.
func (s *Suite) Name() string {
	return s.name
}

// Env returns the environment the suite drives.
func (s *Suite) Env() chain.Environment {
	return s.env
}

// Initialize resolves every handle, impersonates and funds every actor and
// takes the first checkpoint. It may be called only once; any failure leaves
// the suite aborted.
func (s *Suite) Initialize(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initCalled {
		return ErrAlreadyInitialized
	}
	s.initCalled = true
	if s.env == nil {
		s.state = stateAborted
		return fmt.Errorf("initialize: no environment configured")
	}

	if err := s.initialize(ctx); err != nil {
		s.state = stateAborted
		s.logger.Error("suite initialization failed", "suite", s.name, "error", err)
		return fmt.Errorf("initialize: %w", err)
	}

	s.state = stateReady
	s.logger.Info("suite initialized",
		"suite", s.name,
		"handles", len(s.handles),
		"actors", len(s.actors),
		"checkpoint", string(s.checkpoint),
	)
	return nil
}

func (s *Suite) initialize(ctx context.Context) error {
	roles := make([]string, 0, len(s.cfg.Handles))
	for role := range s.cfg.Handles {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		addr, err := s.env.ResolveHandle(ctx, s.cfg.Handles[role])
		if err != nil {
			return fmt.Errorf("resolve handle %q: %w", role, err)
		}
		s.handles[role] = addr
		if _, ok := s.labels[addr]; !ok {
			s.labels[addr] = "@" + role
		}
		s.logger.Debug("handle resolved", "role", role, "address", addr.Hex())
	}

	for _, ac := range s.cfg.Actors {
		if _, dup := s.actors[ac.Role]; dup {
			return fmt.Errorf("actor %q declared twice", ac.Role)
		}
		actor, err := s.impersonate(ctx, ac.Address)
		if err != nil {
			return fmt.Errorf("impersonate actor %q: %w", ac.Role, err)
		}
		if actor.Role == "" {
			actor.Role = ac.Role
		}
		s.actors[ac.Role] = actor
		if _, ok := s.labels[ac.Address]; !ok {
			s.labels[ac.Address] = "$" + ac.Role
		}

		// Each actor is funded from its own configuration.
		if ac.Fund != nil {
			if err := s.fund(ctx, ac.Address, ac.Fund); err != nil {
				return fmt.Errorf("fund actor %q: %w", ac.Role, err)
			}
		}
	}

	for addr, actor := range s.epoch {
		s.baseline[addr] = actor
	}

	cp, err := s.env.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	s.checkpoint = cp
	return nil
}

// Checkpoint returns the checkpoint the next test will be restored to.
func (s *Suite) Checkpoint() chain.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

// Handles returns a copy of the resolved role to address map.
func (s *Suite) Handles() map[string]common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]common.Address, len(s.handles))
	for k, v := range s.handles {
		out[k] = v
	}
	return out
}

// Handle returns the resolved address of a role.
func (s *Suite) Handle(role string) (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.handles[role]
	return addr, ok
}

// Actor returns a privileged actor set up in Initialize.
func (s *Suite) Actor(role string) (*Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[role]
	return a, ok
}

// Impersonate returns a controllable actor for addr. Within one checkpoint
// epoch the same *Actor is returned for the same address. Fails with
// *chain.UnsupportedActorError for addresses the environment cannot control.
func (s *Suite) Impersonate(ctx context.Context, addr common.Address) (*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	actor, err := s.impersonate(ctx, addr)
	s.record("impersonate", addr, common.Address{}, nil, err)
	return actor, err
}

func (s *Suite) impersonate(ctx context.Context, addr common.Address) (*Actor, error) {
	if actor, ok := s.epoch[addr]; ok {
		return actor, nil
	}
	capability, err := s.env.Impersonate(ctx, addr)
	if err != nil {
		return nil, err
	}
	actor := &Actor{Address: addr, capability: capability, suite: s}
	s.epoch[addr] = actor
	s.logger.Debug("actor impersonated", "address", addr.Hex())
	return actor, nil
}

// FundActor raises the balance of addr to at least amount. A larger
// existing balance is left unchanged.
func (s *Suite) FundActor(ctx context.Context, addr common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	err := s.fund(ctx, addr, amount)
	s.record("fund", addr, common.Address{}, amount, err)
	return err
}

func (s *Suite) fund(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fund %s: amount must be non-negative", addr.Hex())
	}
	bal, err := s.env.Balance(ctx, addr)
	if err != nil {
		return fmt.Errorf("fund %s: %w", addr.Hex(), err)
	}
	if bal.Cmp(amount) >= 0 {
		return nil
	}
	if err := s.env.SetBalance(ctx, addr, amount); err != nil {
		return fmt.Errorf("fund %s: %w", addr.Hex(), err)
	}
	s.logger.Debug("actor funded", "address", addr.Hex(), "amount", amount.String())
	return nil
}

func (s *Suite) ready() error {
	switch s.state {
	case stateReady:
		return nil
	case stateAborted:
		return ErrAborted
	default:
		return ErrNotInitialized
	}
}

// Body is a test body. A returned error fails the test; errors for which
// chain.IsFatal reports true also abort the suite.
type Body func(ctx context.Context, t *T) error

// RunIsolated runs body against the current state and then restores the
// last checkpoint and takes a new one, whether body returned, failed an
// assertion or panicked.
//
// The returned error is non-nil only when the suite must stop: a fatal
// environment error from body, or a failed restore.
func (s *Suite) RunIsolated(ctx context.Context, name string, body Body) (*TestResult, error) {
	s.run.Lock()
	defer s.run.Unlock()

	t, err := s.begin(ctx, name)
	if err != nil {
		return nil, err
	}

	bodyErr := t.run(body)

	var result error
	if bodyErr != nil {
		if chain.IsFatal(bodyErr) {
			result = multierror.Append(result, fmt.Errorf("test %q: %w", name, bodyErr))
		}
		t.fail(bodyErr)
	}

	// Restoring must not depend on the caller's deadline.
	if err := s.restore(context.WithoutCancel(ctx)); err != nil {
		t.fail(err)
		result = multierror.Append(result, err)
	}

	res := t.result()
	s.mu.Lock()
	s.current = nil
	if result != nil {
		s.state = stateAborted
	}
	s.mu.Unlock()

	s.logger.Info("test finished", "suite", s.name, "test", name, "pass", res.Pass)
	if result != nil {
		s.logger.Error("suite aborted", "suite", s.name, "test", name, "error", result)
	}
	return res, result
}

func (s *Suite) begin(ctx context.Context, name string) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	// A canceled run starts no further tests; the suite stays usable.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("test %q not started: %w", name, err)
	}
	s.clock.Reset()
	t := newT(ctx, s, name)
	s.current = t
	return t, nil
}

// restore reverts to the current checkpoint and replaces it with a fresh
// one. Actors impersonated during the test are forgotten.
func (s *Suite) restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.env.Revert(ctx, s.checkpoint); err != nil {
		return fmt.Errorf("revert to %s: %w", s.checkpoint, err)
	}
	cp, err := s.env.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	s.logger.Debug("checkpoint replaced", "old", string(s.checkpoint), "new", string(cp))
	s.checkpoint = cp

	s.epoch = make(map[common.Address]*Actor, len(s.baseline))
	for addr, actor := range s.baseline {
		s.epoch[addr] = actor
	}
	return nil
}

// label returns a stable, human readable name for addr.
func (s *Suite) label(addr common.Address) string {
	if l, ok := s.labels[addr]; ok {
		return l
	}
	return addr.Hex()
}

// record appends an operation to the running test's trace, if any.
// Callers hold s.mu.
func (s *Suite) record(op string, subject, target common.Address, amount *big.Int, err error) {
	if s.current == nil {
		return
	}
	ev := TraceEvent{
		Seq:     s.clock.Next(),
		Op:      op,
		Subject: s.label(subject),
		Outcome: outcome(err),
	}
	if target != (common.Address{}) {
		ev.Target = s.label(target)
	}
	if amount != nil {
		ev.Amount = amount.String()
	}
	s.current.trace = append(s.current.trace, ev)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if reason, ok := chain.RevertReason(err); ok {
		return "reverted: " + reason
	}
	return "error: " + err.Error()
}
