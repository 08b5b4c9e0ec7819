package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/stoplimit/pkg/app/core/governance"
)

// Genesis seeds a fresh node: the owner configuration, opening balances and the local venue.
// Governance fields only apply when the store holds no configuration yet.
type Genesis struct {
	Owner        string   `yaml:"owner"`
	FeeRecipient string   `yaml:"fee_recipient"`
	FeeNumerator *uint64  `yaml:"fee_numerator"`
	Whitelist    []string `yaml:"whitelist"`

	Balances []Balance `yaml:"balances"` // engine-custodied vault
	Direct   []Balance `yaml:"direct"`   // tokens held outside the vault

	Pools       []PoolSpec `yaml:"pools"`
	SwapFillers []string   `yaml:"swap_fillers"`
	Oracles     Oracles    `yaml:"oracles"`
}

type Balance struct {
	Token  string `yaml:"token"`
	Owner  string `yaml:"owner"`
	Amount string `yaml:"amount"` // decimal
}

type PoolSpec struct {
	Address string `yaml:"address"`
	Token0  string `yaml:"token0"`
	Token1  string `yaml:"token1"`
}

type FixedOracle struct {
	Address string `yaml:"address"`
	Rate    string `yaml:"rate"` // decimal, 1e18 scaled
}

type Oracles struct {
	Fixed []FixedOracle `yaml:"fixed"`
	Spot  []string      `yaml:"spot"`
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(raw)
}

func ParseGenesis(raw []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func address(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("genesis: %s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func amount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("genesis: %s: invalid amount %q", field, s)
	}
	return v, nil
}

func (g *Genesis) Validate() error {
	var problems []error
	check := func(err error) {
		if err != nil {
			problems = append(problems, err)
		}
	}

	if owner, err := address("owner", g.Owner); err != nil {
		check(err)
	} else if owner == (common.Address{}) {
		check(errors.New("genesis: owner must not be the zero address"))
	}
	_, err := address("fee_recipient", g.FeeRecipient)
	check(err)
	if g.FeeNumerator != nil && *g.FeeNumerator > governance.FeeDivisor {
		check(fmt.Errorf("genesis: fee_numerator %d exceeds divisor %d", *g.FeeNumerator, governance.FeeDivisor))
	}
	for i, w := range g.Whitelist {
		_, err := address(fmt.Sprintf("whitelist[%d]", i), w)
		check(err)
	}
	for name, list := range map[string][]Balance{"balances": g.Balances, "direct": g.Direct} {
		for i, b := range list {
			field := fmt.Sprintf("%s[%d]", name, i)
			_, err := address(field+".token", b.Token)
			check(err)
			_, err = address(field+".owner", b.Owner)
			check(err)
			_, err = amount(field+".amount", b.Amount)
			check(err)
		}
	}
	for i, p := range g.Pools {
		field := fmt.Sprintf("pools[%d]", i)
		_, err := address(field+".address", p.Address)
		check(err)
		t0, err0 := address(field+".token0", p.Token0)
		t1, err1 := address(field+".token1", p.Token1)
		check(err0)
		check(err1)
		if err0 == nil && err1 == nil && t0 == t1 {
			check(fmt.Errorf("genesis: %s: identical tokens", field))
		}
	}
	for i, f := range g.SwapFillers {
		_, err := address(fmt.Sprintf("swap_fillers[%d]", i), f)
		check(err)
	}
	for i, o := range g.Oracles.Fixed {
		field := fmt.Sprintf("oracles.fixed[%d]", i)
		_, err := address(field+".address", o.Address)
		check(err)
		_, err = amount(field+".rate", o.Rate)
		check(err)
	}
	for i, o := range g.Oracles.Spot {
		_, err := address(fmt.Sprintf("oracles.spot[%d]", i), o)
		check(err)
	}
	return errors.Join(problems...)
}

// GovernanceState is the configuration a fresh store is seeded with. defaultNumerator applies
// when the file sets no fee_numerator. Call only after Validate.
func (g *Genesis) GovernanceState(defaultNumerator uint64) governance.State {
	numerator := defaultNumerator
	if g.FeeNumerator != nil {
		numerator = *g.FeeNumerator
	}
	wl := make([]common.Address, 0, len(g.Whitelist))
	for _, w := range g.Whitelist {
		wl = append(wl, common.HexToAddress(w))
	}
	return governance.State{
		Owner:        common.HexToAddress(g.Owner),
		FeeRecipient: common.HexToAddress(g.FeeRecipient),
		FeeNumerator: numerator,
		Whitelist:    wl,
	}
}

type depositor interface {
	Deposit(token, to common.Address, amount *big.Int) error
}

// Seed credits the genesis balances to the vault book and the direct holdings.
func (g *Genesis) Seed(book, direct depositor) error {
	for _, set := range []struct {
		to   depositor
		list []Balance
	}{{book, g.Balances}, {direct, g.Direct}} {
		for _, b := range set.list {
			if set.to == nil {
				return errors.New("genesis: no destination for balances")
			}
			amt, err := amount("amount", b.Amount)
			if err != nil {
				return err
			}
			if amt.Sign() == 0 {
				continue
			}
			if err := set.to.Deposit(common.HexToAddress(b.Token), common.HexToAddress(b.Owner), amt); err != nil {
				return fmt.Errorf("genesis: seed %s for %s: %w", b.Token, b.Owner, err)
			}
		}
	}
	return nil
}

// RateValue parses the fixed rate. Call only after Validate.
func (o FixedOracle) RateValue() *big.Int {
	v, _ := new(big.Int).SetString(o.Rate, 10)
	return v
}
