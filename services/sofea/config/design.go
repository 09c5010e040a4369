// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads SOFEA design files.
//
// A design file is YAML. It declares the states of the design, their
// positions and residue conformations, the tuple energies or weights of
// each state, pruned tuples, and run settings:
//
//	name: example
//	temperature: 298.15
//	states:
//	  - name: complex
//	    mutable: true
//	    positions:
//	      - res_num: A23
//	        mutable: true
//	        rcs: [ALA, ALA, GLY]
//	      - res_num: A24
//	        rcs: [PHE, PHE]
//	    offset_energy: -12.5
//	    pairs:
//	      - {pos1: A23, rc1: 0, pos2: A24, rc2: 1, energy: -0.7}
//	    pruned:
//	      singles: [{pos: A23, rc: 2}]
//	run:
//	  seqdb: example.seq.db
//	  fringedb: example.fringe.db
//	  fringedb_mib: 64
//	  parallelism: 4
//
// Tuples reference positions by residue number. Every term carries either
// an energy (kcal/mol, converted at the design temperature) or a decimal
// Boltzmann weight, never both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDesign is returned for design files that fail validation.
var ErrInvalidDesign = errors.New("invalid design")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Design is a parsed design file.
type Design struct {
	// Name labels the run, and names its stores when run.seqdb or
	// run.fringedb are unset.
	Name string `yaml:"name" validate:"required"`

	// Temperature in Kelvin for energy conversion. 0 selects 298.15.
	Temperature float64 `yaml:"temperature" validate:"gte=0"`

	States []StateDesign `yaml:"states" validate:"required,min=1,dive"`

	Run RunDesign `yaml:"run"`
}

// StateDesign declares one state.
type StateDesign struct {
	Name string `yaml:"name" validate:"required"`

	// Mutable states are sequenced; their mutable positions form the
	// sequence space.
	Mutable bool `yaml:"mutable"`

	Positions []PositionDesign `yaml:"positions" validate:"required,min=2,dive"`

	// OffsetEnergy and Factor both multiply into the global factor.
	OffsetEnergy *float64 `yaml:"offset_energy"`
	Factor       string   `yaml:"factor"`

	Singles []SingleTerm `yaml:"singles" validate:"dive"`
	Pairs   []PairTerm   `yaml:"pairs" validate:"dive"`
	Triples []TripleTerm `yaml:"triples" validate:"dive"`

	Pruned PrunedDesign `yaml:"pruned"`
}

// PositionDesign declares a position and its residue conformations, one
// residue type name per RC.
type PositionDesign struct {
	ResNum  string   `yaml:"res_num" validate:"required"`
	Mutable bool     `yaml:"mutable"`
	RCs     []string `yaml:"rcs" validate:"required,min=1,dive,required"`
}

// Value is an energy or a Boltzmann weight.
type Value struct {
	Energy *float64 `yaml:"energy"`
	Weight string   `yaml:"weight"`
}

// SingleRef names one (position, RC) choice.
type SingleRef struct {
	Pos string `yaml:"pos" validate:"required"`
	RC  int    `yaml:"rc" validate:"gte=0"`
}

// PairRef names two choices.
type PairRef struct {
	Pos1 string `yaml:"pos1" validate:"required"`
	RC1  int    `yaml:"rc1" validate:"gte=0"`
	Pos2 string `yaml:"pos2" validate:"required,nefield=Pos1"`
	RC2  int    `yaml:"rc2" validate:"gte=0"`
}

// TripleRef names three choices.
type TripleRef struct {
	Pos1 string `yaml:"pos1" validate:"required"`
	RC1  int    `yaml:"rc1" validate:"gte=0"`
	Pos2 string `yaml:"pos2" validate:"required,nefield=Pos1"`
	RC2  int    `yaml:"rc2" validate:"gte=0"`
	Pos3 string `yaml:"pos3" validate:"required,nefield=Pos1,nefield=Pos2"`
	RC3  int    `yaml:"rc3" validate:"gte=0"`
}

// SingleTerm weighs one choice.
type SingleTerm struct {
	SingleRef `yaml:",inline"`
	Value     `yaml:",inline"`
}

// PairTerm weighs a pair.
type PairTerm struct {
	PairRef `yaml:",inline"`
	Value   `yaml:",inline"`
}

// TripleTerm weighs a triple.
type TripleTerm struct {
	TripleRef `yaml:",inline"`
	Value     `yaml:",inline"`
}

// PrunedDesign lists pruned tuples.
type PrunedDesign struct {
	Singles []SingleRef `yaml:"singles" validate:"dive"`
	Pairs   []PairRef   `yaml:"pairs" validate:"dive"`
	Triples []TripleRef `yaml:"triples" validate:"dive"`
}

// RunDesign holds run settings. Zero values select engine defaults.
type RunDesign struct {
	SeqDB            string        `yaml:"seqdb"`
	FringeDB         string        `yaml:"fringedb"`
	FringeDBMiB      float64       `yaml:"fringedb_mib" validate:"gte=0"`
	FringeDBNodes    int64         `yaml:"fringedb_nodes" validate:"gte=0"`
	WriteBufferNodes int           `yaml:"write_buffer_nodes" validate:"gte=0"`
	Parallelism      int           `yaml:"parallelism" validate:"gte=0"`
	SweepDivisor     float64       `yaml:"sweep_divisor" validate:"omitempty,gt=1"`
	MathPrecision    int           `yaml:"math_precision" validate:"gte=0"`
	SeqDBPrecision   int           `yaml:"seqdb_precision" validate:"gte=0"`
	ShowProgress     bool          `yaml:"show_progress"`
	ProgressInterval time.Duration `yaml:"progress_interval" validate:"gte=0"`
	SyncWrites       *bool         `yaml:"sync_writes"`
}

// Load reads and validates a design file.
func Load(path string) (*Design, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return d, nil
}

// Parse decodes and validates a design. Unknown keys are rejected.
func Parse(data []byte) (*Design, error) {
	var d Design
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDesign, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks struct tags and cross references.
func (d *Design) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDesign, err)
	}

	names := make(map[string]bool)
	for i := range d.States {
		s := &d.States[i]
		if names[s.Name] {
			return fmt.Errorf("%w: duplicate state %q", ErrInvalidDesign, s.Name)
		}
		names[s.Name] = true
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: state %s: %v", ErrInvalidDesign, s.Name, err)
		}
	}
	return nil
}

func (s *StateDesign) validate() error {
	positions := make(map[string]int)
	for _, p := range s.Positions {
		if _, ok := positions[p.ResNum]; ok {
			return fmt.Errorf("duplicate position %s", p.ResNum)
		}
		positions[p.ResNum] = len(p.RCs)
	}

	ref := func(pos string, rc int) error {
		n, ok := positions[pos]
		if !ok {
			return fmt.Errorf("unknown position %s", pos)
		}
		if rc >= n {
			return fmt.Errorf("position %s has %d RCs, no RC %d", pos, n, rc)
		}
		return nil
	}
	value := func(v Value, what string) error {
		if (v.Energy == nil) == (v.Weight == "") {
			return fmt.Errorf("%s needs exactly one of energy or weight", what)
		}
		if v.Weight != "" {
			return checkWeight(v.Weight, what)
		}
		return nil
	}

	if s.Factor != "" {
		if err := checkWeight(s.Factor, "factor"); err != nil {
			return err
		}
	}

	for _, t := range s.Singles {
		if err := errors.Join(ref(t.Pos, t.RC), value(t.Value, "single")); err != nil {
			return err
		}
	}
	for _, t := range s.Pairs {
		if err := errors.Join(ref(t.Pos1, t.RC1), ref(t.Pos2, t.RC2), value(t.Value, "pair")); err != nil {
			return err
		}
	}
	for _, t := range s.Triples {
		if err := errors.Join(ref(t.Pos1, t.RC1), ref(t.Pos2, t.RC2), ref(t.Pos3, t.RC3), value(t.Value, "triple")); err != nil {
			return err
		}
	}
	for _, r := range s.Pruned.Singles {
		if err := ref(r.Pos, r.RC); err != nil {
			return err
		}
	}
	for _, r := range s.Pruned.Pairs {
		if err := errors.Join(ref(r.Pos1, r.RC1), ref(r.Pos2, r.RC2)); err != nil {
			return err
		}
	}
	for _, r := range s.Pruned.Triples {
		if err := errors.Join(ref(r.Pos1, r.RC1), ref(r.Pos2, r.RC2), ref(r.Pos3, r.RC3)); err != nil {
			return err
		}
	}
	return nil
}

func checkWeight(text, what string) error {
	w, err := decimal.NewFromString(text)
	if err != nil {
		return fmt.Errorf("%s weight %q: %v", what, text, err)
	}
	if w.Sign() < 0 {
		return fmt.Errorf("%s weight %s is negative", what, text)
	}
	return nil
}
