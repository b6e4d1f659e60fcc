package domain

import (
	"encoding/json"
	"fmt"
)

// JobType tags a queue message with the requested operation.
type JobType string

const (
	JobTypeCompile JobType = "Compile"
	JobTypeVerify  JobType = "Verify"
)

// DefaultSolcVersion fills verify requests that omit solc_version.
const DefaultSolcVersion = "0.8.24"

// CompileConfig is the compile-specific request payload.
type CompileConfig struct {
	Version       string   `json:"version" validate:"required"`
	UserLibraries []string `json:"user_libraries,omitempty"`
	TargetPath    *string  `json:"target_path,omitempty"`
}

// VerifyConfig is the verify-specific request payload.
type VerifyConfig struct {
	ZksolcVersion   string   `json:"zksolc_version" validate:"required"`
	SolcVersion     string   `json:"solc_version,omitempty"`
	Network         string   `json:"network" validate:"required"`
	ContractAddress string   `json:"contract_address" validate:"required"`
	Inputs          []string `json:"inputs,omitempty"`
	TargetContract  *string  `json:"target_contract,omitempty"`
}

// QueueMessage is one job request from the queue, tagged by Type.
// Exactly one of Compile or Verify is populated.
type QueueMessage struct {
	Type    JobType        `validate:"required,oneof=Compile Verify"`
	ID      string         `validate:"required,uuid"`
	Compile *CompileConfig `validate:"required_without=Verify"`
	Verify  *VerifyConfig  `validate:"required_without=Compile"`
}

type messageEnvelope struct {
	Type   JobType         `json:"type"`
	ID     string          `json:"id"`
	Config json.RawMessage `json:"config"`
	// Some producers place target_contract beside config instead of inside it.
	TargetContract *string `json:"target_contract,omitempty"`
}

// UnmarshalJSON decodes the tagged wire form, dispatching config on type.
func (m *QueueMessage) UnmarshalJSON(b []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	m.Type = env.Type
	m.ID = env.ID
	m.Compile = nil
	m.Verify = nil
	switch env.Type {
	case JobTypeCompile:
		var cfg CompileConfig
		if len(env.Config) > 0 {
			if err := json.Unmarshal(env.Config, &cfg); err != nil {
				return fmt.Errorf("%w: compile config: %v", ErrMalformedMessage, err)
			}
		}
		m.Compile = &cfg
	case JobTypeVerify:
		var cfg VerifyConfig
		if len(env.Config) > 0 {
			if err := json.Unmarshal(env.Config, &cfg); err != nil {
				return fmt.Errorf("%w: verify config: %v", ErrMalformedMessage, err)
			}
		}
		if cfg.TargetContract == nil {
			cfg.TargetContract = env.TargetContract
		}
		if cfg.SolcVersion == "" {
			cfg.SolcVersion = DefaultSolcVersion
		}
		m.Verify = &cfg
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, string(env.Type))
	}
	return nil
}

// MarshalJSON emits the canonical wire form with config nested under "config".
func (m QueueMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case JobTypeCompile:
		return json.Marshal(struct {
			Type   JobType        `json:"type"`
			ID     string         `json:"id"`
			Config *CompileConfig `json:"config"`
		}{m.Type, m.ID, m.Compile})
	case JobTypeVerify:
		return json.Marshal(struct {
			Type   JobType       `json:"type"`
			ID     string        `json:"id"`
			Config *VerifyConfig `json:"config"`
		}{m.Type, m.ID, m.Verify})
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, string(m.Type))
}
