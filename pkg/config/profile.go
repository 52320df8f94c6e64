package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// RecoveryProfile is a deployment-specific recovery policy profile.
// Profiles are validated against a JSON schema at load time so a bad
// deployment file fails at boot, not mid-recovery.
type RecoveryProfile struct {
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code"`

	// SecurityPeriod carries the default timelock and its floor.
	SecurityPeriod SecurityPeriodConfig `yaml:"security_period" json:"security_period"`
	// TriggerCooldown is the minimum spacing between same-role triggers;
	// "0s" disables the check.
	TriggerCooldown string `yaml:"trigger_cooldown" json:"trigger_cooldown"`
	// CancelPolicy is "unilateral" or "two-phase".
	CancelPolicy string `yaml:"cancel_policy" json:"cancel_policy"`
	// Validators lists the credential modules this deployment can recover,
	// each with its capability webhook endpoint.
	Validators []ValidatorConfig `yaml:"validators" json:"validators"`
}

// SecurityPeriodConfig holds the timelock durations as strings ("168h").
type SecurityPeriodConfig struct {
	Default string `yaml:"default" json:"default"`
	Floor   string `yaml:"floor" json:"floor"`
}

// ValidatorConfig binds a validator identifier to its webhook endpoint.
type ValidatorConfig struct {
	ID       string `yaml:"id" json:"id"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// profileSchema validates the structural shape of a profile document.
const profileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name", "security_period"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"code": {"type": "string"},
		"security_period": {
			"type": "object",
			"required": ["default"],
			"properties": {
				"default": {"type": "string", "minLength": 2},
				"floor": {"type": "string"}
			}
		},
		"trigger_cooldown": {"type": "string"},
		"cancel_policy": {"enum": ["unilateral", "two-phase", ""]},
		"validators": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "endpoint"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"endpoint": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// LoadProfile loads and validates profile_<code>.yaml from the profiles
// directory.
func LoadProfile(profilesDir, code string) (*RecoveryProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}
	return ParseProfile(data, code)
}

// ParseProfile parses and schema-validates a profile document.
func ParseProfile(data []byte, code string) (*RecoveryProfile, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if err := validateProfile(generic); err != nil {
		return nil, fmt.Errorf("profile %q: %w", code, err)
	}

	var profile RecoveryProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

func validateProfile(doc any) error {
	schema, err := jsonschema.CompileString("profile.schema.json", profileSchema)
	if err != nil {
		return fmt.Errorf("compile profile schema: %w", err)
	}

	// The schema validator expects JSON-decoded values; round-trip the YAML
	// document through JSON to normalize map key types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("normalize profile: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return fmt.Errorf("normalize profile: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// DefaultPeriod parses the profile's default security period.
func (p *RecoveryProfile) DefaultPeriod() (time.Duration, error) {
	return time.ParseDuration(p.SecurityPeriod.Default)
}

// FloorPeriod parses the profile's floor; empty means one hour.
func (p *RecoveryProfile) FloorPeriod() (time.Duration, error) {
	if p.SecurityPeriod.Floor == "" {
		return time.Hour, nil
	}
	return time.ParseDuration(p.SecurityPeriod.Floor)
}

// Cooldown parses the trigger cooldown; empty means twelve hours.
func (p *RecoveryProfile) Cooldown() (time.Duration, error) {
	if p.TriggerCooldown == "" {
		return 12 * time.Hour, nil
	}
	return time.ParseDuration(p.TriggerCooldown)
}
