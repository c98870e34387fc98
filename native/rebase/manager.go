package rebase

import (
	"errors"
	"math/big"
	"time"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

var (
	// ErrCallerNotVault is returned when FetchRebaseAmt is not called by the vault.
	ErrCallerNotVault = errors.New("rebase manager: caller is not the vault")
	// ErrInvalidAPRConfig is returned when aprBottom exceeds aprCap.
	ErrInvalidAPRConfig = errors.New("rebase manager: apr bottom exceeds apr cap")
	errNilState         = errors.New("rebase manager: state not configured")
	errNilCollaborator  = errors.New("rebase manager: token or dripper not configured")
)

const (
	// DefaultGap is the minimum time between two rebases.
	DefaultGap = uint64(24 * 60 * 60)
	// DefaultAPRCap bounds the annualised rebase at 10%.
	DefaultAPRCap = uint64(1_000)
	// DefaultAPRBottom requires at least 3% annualised before rebasing.
	DefaultAPRBottom = uint64(300)
	// OneYear is the annualisation period in seconds.
	OneYear = uint64(365 * 24 * 60 * 60)
)

var paramsKey = []byte("rebase/params")

// Params is the persisted rebase configuration and timer.
type Params struct {
	Vault        crypto.Address
	Dripper      crypto.Address
	Gap          uint64
	APRCap       uint64
	APRBottom    uint64
	LastRebaseTS uint64
}

type managerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
}

// Token exposes the supply figures of the stable token.
type Token interface {
	TotalSupply() (*big.Int, error)
	NonRebasingSupply() (*big.Int, error)
	BalanceOf(account crypto.Address) (*big.Int, error)
}

// Dripper exposes the drip schedule consumed by the manager.
type Dripper interface {
	GetCollectableAmt() (*big.Int, error)
	Collect(caller crypto.Address) (*big.Int, error)
}

// Manager gates rebase frequency and magnitude.
type Manager struct {
	address crypto.Address
	state   managerState
	token   Token
	dripper Dripper
	clock   func() time.Time
}

// New constructs a rebase manager acting from address.
func New(address crypto.Address) *Manager {
	return &Manager{address: address, clock: time.Now}
}

// SetState wires the manager to the persistence layer.
func (m *Manager) SetState(state managerState) {
	if m == nil {
		return
	}
	m.state = state
}

// SetToken wires the stable token.
func (m *Manager) SetToken(token Token) {
	if m == nil {
		return
	}
	m.token = token
}

// SetDripper wires the dripper implementation.
func (m *Manager) SetDripper(dripper Dripper) {
	if m == nil {
		return
	}
	m.dripper = dripper
}

// SetClock overrides the time source.
func (m *Manager) SetClock(clock func() time.Time) {
	if m == nil || clock == nil {
		return
	}
	m.clock = clock
}

func (m *Manager) now() uint64 { return nativecommon.Unix(m.clock) }

func (m *Manager) ready() error {
	if m == nil || m.state == nil {
		return errNilState
	}
	if m.token == nil || m.dripper == nil {
		return errNilCollaborator
	}
	return nil
}

// Initialize writes the configuration. The rebase timer starts now.
func (m *Manager) Initialize(vault, dripper crypto.Address, gap, aprCap, aprBottom uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(dripper, "dripper"); err != nil {
		return err
	}
	if aprBottom > aprCap {
		return ErrInvalidAPRConfig
	}
	return m.state.Atomic(func() error {
		params, err := m.load()
		if err != nil {
			return err
		}
		params.Vault = vault
		params.Dripper = dripper
		params.Gap = gap
		params.APRCap = aprCap
		params.APRBottom = aprBottom
		if params.LastRebaseTS == 0 {
			params.LastRebaseTS = m.now()
		}
		return m.store(params)
	})
}

func (m *Manager) load() (*Params, error) {
	params := new(Params)
	ok, err := m.state.KVGet(paramsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Params{Gap: DefaultGap, APRCap: DefaultAPRCap, APRBottom: DefaultAPRBottom}, nil
	}
	return params, nil
}

func (m *Manager) store(params *Params) error {
	return m.state.KVPut(paramsKey, params)
}

// Params returns a copy of the persisted configuration.
func (m *Manager) Params() (*Params, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.load()
}
