// Package events decodes the opaque payloads carried by EventAppended logs into
// typed, JSON-serialisable semantic events.
package events

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Param is one named argument of an event.
type Param struct {
	Name string
	Type string
}

// Schema describes one event variant. All parameters are decoded from the
// concatenated ABI tuple, including those that were indexed on chain.
type Schema struct {
	Name   string
	Params []Param

	signature string
	topic0    common.Hash
	args      abi.Arguments
}

// Signature returns the canonical signature, e.g. Transfer(address,address,uint256).
func (s *Schema) Signature() string {
	return s.signature
}

// Topic0 returns the keccak256 of the canonical signature.
func (s *Schema) Topic0() common.Hash {
	return s.topic0
}

// Arguments returns the ABI argument list used for decoding.
func (s *Schema) Arguments() abi.Arguments {
	return s.args
}

// NewSchema builds a schema and derives its topic. It panics on an invalid type,
// which only a bad table literal can produce.
func NewSchema(name string, params ...Param) *Schema {
	s, err := newSchema(name, params)
	if err != nil {
		panic(err)
	}
	return s
}

func newSchema(name string, params []Param) (*Schema, error) {
	types := make([]string, len(params))
	args := make(abi.Arguments, len(params))

	for i, p := range params {
		t, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return nil, fmt.Errorf("event %s param %s: %w", name, p.Name, err)
		}
		types[i] = t.String()
		args[i] = abi.Argument{Name: p.Name, Type: t}
	}

	signature := name + "(" + strings.Join(types, ",") + ")"

	return &Schema{
		Name:      name,
		Params:    params,
		signature: signature,
		topic0:    crypto.Keccak256Hash([]byte(signature)),
		args:      args,
	}, nil
}

// Table indexes schemas by topic0.
type Table struct {
	byTopic map[common.Hash]*Schema
	byName  map[string]*Schema
}

func newTable(schemas ...*Schema) *Table {
	t := &Table{
		byTopic: make(map[common.Hash]*Schema, len(schemas)),
		byName:  make(map[string]*Schema, len(schemas)),
	}
	for _, s := range schemas {
		if _, dup := t.byTopic[s.topic0]; dup {
			panic("duplicate event signature " + s.signature)
		}
		t.byTopic[s.topic0] = s
		t.byName[s.Name] = s
	}
	return t
}

// Lookup returns the schema for topic0.
func (t *Table) Lookup(topic0 common.Hash) (*Schema, bool) {
	s, ok := t.byTopic[topic0]
	return s, ok
}

// ByName returns the schema with the given event name.
func (t *Table) ByName(name string) (*Schema, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// Len returns the number of variants.
func (t *Table) Len() int {
	return len(t.byTopic)
}

func p(name, typ string) Param {
	return Param{Name: name, Type: typ}
}
