// Package evidence defines the typed evidence items produced by source
// adapters and the bundle assembled from them.
package evidence

import (
	"encoding/json"
	"fmt"
	"math"
)

type Kind string

const (
	KindSideEffect           Kind = "side_effect"
	KindTarget               Kind = "target"
	KindPathway              Kind = "pathway"
	KindEnzyme               Kind = "enzyme"
	KindFAERS                Kind = "faers"
	KindRiskFlag             Kind = "risk_flag"
	KindCanonicalInteraction Kind = "canonical_interaction"
)

// Side says which drug of the pair an item describes.
type Side string

const (
	SideA    Side = "a"
	SideB    Side = "b"
	SidePair Side = "pair"
)

type EnzymeRole string

const (
	RoleSubstrate EnzymeRole = "substrate"
	RoleInhibitor EnzymeRole = "inhibitor"
	RoleInducer   EnzymeRole = "inducer"
)

// Risk flag names.
const (
	FlagPRR  = "prr"
	FlagDILI = "dili"
	FlagDICT = "dict"
	FlagDIQT = "diqt"
)

// Payload is the kind-specific body of an Item.
type Payload interface {
	Kind() Kind
}

type SideEffect struct {
	Term string  `json:"term"`
	PRR  float64 `json:"prr,omitempty"`
}

type Target struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

type Pathway struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

type Enzyme struct {
	Enzyme string     `json:"enzyme"`
	Role   EnzymeRole `json:"role"`
}

type FAERSReport struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

type RiskFlag struct {
	Flag  string  `json:"flag"`
	Level string  `json:"level,omitempty"`
	Value float64 `json:"value,omitempty"`
}

type CanonicalInteraction struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Reference   string `json:"reference,omitempty"`
}

func (SideEffect) Kind() Kind           { return KindSideEffect }
func (Target) Kind() Kind               { return KindTarget }
func (Pathway) Kind() Kind              { return KindPathway }
func (Enzyme) Kind() Kind               { return KindEnzyme }
func (FAERSReport) Kind() Kind          { return KindFAERS }
func (RiskFlag) Kind() Kind             { return KindRiskFlag }
func (CanonicalInteraction) Kind() Kind { return KindCanonicalInteraction }

// Item is one piece of evidence. Items are values; adapters build them once
// and nothing downstream mutates them.
type Item struct {
	Source   string
	Kind     Kind
	Side     Side
	Name     string
	RawScore float64
	Payload  Payload
}

// New builds an item whose kind follows its payload.
func New(source string, side Side, name string, raw float64, p Payload) Item {
	return Item{Source: source, Kind: p.Kind(), Side: side, Name: name, RawScore: raw, Payload: p}
}

// Key identifies the item for reliability tracking.
func (it Item) Key() string {
	return string(it.Kind) + ":" + it.Name
}

type itemJSON struct {
	Source   string          `json:"source"`
	Kind     Kind            `json:"kind"`
	Side     Side            `json:"side"`
	Name     string          `json:"name"`
	RawScore float64         `json:"raw_score"`
	Payload  json.RawMessage `json:"payload"`
}

func (it Item) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(itemJSON{
		Source:   it.Source,
		Kind:     it.Kind,
		Side:     it.Side,
		Name:     it.Name,
		RawScore: it.RawScore,
		Payload:  payload,
	})
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p, err := decodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}

	*it = Item{
		Source:   raw.Source,
		Kind:     raw.Kind,
		Side:     raw.Side,
		Name:     raw.Name,
		RawScore: raw.RawScore,
		Payload:  p,
	}
	return nil
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	switch kind {
	case KindSideEffect:
		return decodeAs[SideEffect](data)
	case KindTarget:
		return decodeAs[Target](data)
	case KindPathway:
		return decodeAs[Pathway](data)
	case KindEnzyme:
		return decodeAs[Enzyme](data)
	case KindFAERS:
		return decodeAs[FAERSReport](data)
	case KindRiskFlag:
		return decodeAs[RiskFlag](data)
	case KindCanonicalInteraction:
		return decodeAs[CanonicalInteraction](data)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedResponse, kind)
}

func decodeAs[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(orEmpty(data), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return v, nil
}

func orEmpty(data json.RawMessage) json.RawMessage {
	if len(data) == 0 || string(data) == "null" {
		return json.RawMessage("{}")
	}
	return data
}

// Validate checks an item at the adapter boundary.
func Validate(it Item) error {
	if it.Payload == nil {
		return fmt.Errorf("%w: %s item %q has no payload", ErrMalformedResponse, it.Kind, it.Name)
	}
	if it.Payload.Kind() != it.Kind {
		return fmt.Errorf("%w: payload %s on %s item", ErrMalformedResponse, it.Payload.Kind(), it.Kind)
	}
	if _, ok := SectionFor(it.Kind); !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedResponse, it.Kind)
	}
	if it.Name == "" {
		return fmt.Errorf("%w: %s item without name", ErrMalformedResponse, it.Kind)
	}
	switch it.Side {
	case SideA, SideB, SidePair:
	default:
		return fmt.Errorf("%w: unknown side %q", ErrMalformedResponse, it.Side)
	}
	if math.IsNaN(it.RawScore) || math.IsInf(it.RawScore, 0) {
		return fmt.Errorf("%w: non-finite score on %q", ErrMalformedResponse, it.Name)
	}
	if e, ok := it.Payload.(Enzyme); ok {
		switch e.Role {
		case RoleSubstrate, RoleInhibitor, RoleInducer:
		default:
			return fmt.Errorf("%w: unknown enzyme role %q", ErrMalformedResponse, e.Role)
		}
	}
	return nil
}
