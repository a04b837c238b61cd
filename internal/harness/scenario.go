package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// BatchID is the fixed batch ID stamped on every batch.
	// If empty, defaults to "test-batch-default".
	BatchID string `yaml:"batch_id,omitempty"`

	// Config tunes the normalizer and allocator for this scenario.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Setup steps establish initial state. They are not traced and are
	// assumed to succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the steps under test.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final store.
	// Supported types: record_count, record, same_base, distinct_bases,
	// store_verified
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ScenarioConfig mirrors the parts of config.Config a scenario may set.
type ScenarioConfig struct {
	StripSeparators    bool `yaml:"strip_separators,omitempty"`
	StripVersionSuffix bool `yaml:"strip_version_suffix,omitempty"`

	// AllocatorSpace shrinks the base space to force collisions. Zero
	// means the full space.
	AllocatorSpace uint64 `yaml:"allocator_space,omitempty"`

	// MaxSaltedAttempts overrides the allocator's re-hash budget.
	MaxSaltedAttempts int `yaml:"max_salted_attempts,omitempty"`
}

// Step is one orchestrator call. Exactly one of Resolve, Status, Revise
// or Adopt is set.
type Step struct {
	// Resolve lists filenames for one ResolveOrCreate batch.
	Resolve []string `yaml:"resolve,omitempty"`

	// Status lists filenames for one read-only Status batch.
	Status []string `yaml:"status,omitempty"`

	// Revise creates a revision.
	Revise *ReviseStep `yaml:"revise,omitempty"`

	// Adopt records an existing part number for a file.
	Adopt *AdoptStep `yaml:"adopt,omitempty"`

	// Expect holds per-file expectations (subset match).
	Expect []Expect `yaml:"expect,omitempty"`

	// ExpectError is the error code the step must fail with
	// (e.g. "REVISION_OVERFLOW").
	ExpectError string `yaml:"expect_error,omitempty"`
}

// ReviseStep is a CreateRevision call.
type ReviseStep struct {
	// File names the part. Ignored when Identity is set.
	File string `yaml:"file,omitempty"`

	// Identity revises by identity instead of by file.
	Identity string `yaml:"identity,omitempty"`

	// Revision is the requested revision; 0 means next.
	Revision int `yaml:"revision,omitempty"`
}

// AdoptStep is an Adopt call.
type AdoptStep struct {
	File       string `yaml:"file"`
	PartNumber string `yaml:"part_number"`
}

// Expect is a subset match on one traced file. Nil fields are not
// checked.
type Expect struct {
	File              string   `yaml:"file"`
	Identity          *string  `yaml:"identity,omitempty"`
	Base              *string  `yaml:"base,omitempty"`
	Revision          *int     `yaml:"revision,omitempty"`
	PartNumber        *string  `yaml:"part_number,omitempty"`
	Existing          *string  `yaml:"existing_part_number,omitempty"`
	IsNew             *bool    `yaml:"is_new,omitempty"`
	HasMapping        *bool    `yaml:"has_mapping,omitempty"`
	IsRenamedFile     *bool    `yaml:"is_renamed_file,omitempty"`
	OriginalFilenames []string `yaml:"original_filenames,omitempty"`
	Warning           string   `yaml:"warning,omitempty"`
}

// Assertion validates the final store.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record_count": the store holds exactly Count records
	// - "record": the record for Identity matches the given fields
	// - "same_base": the traced Files all resolved to one base
	// - "distinct_bases": the traced Files all resolved to different bases
	// - "store_verified": store.Verify reports no problems
	Type string `yaml:"type"`

	Count     int      `yaml:"count,omitempty"`
	Identity  string   `yaml:"identity,omitempty"`
	Base      string   `yaml:"base,omitempty"`
	Revision  int      `yaml:"revision,omitempty"`
	Filenames []string `yaml:"filenames,omitempty"`
	Files     []string `yaml:"files,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordCount   = "record_count"
	AssertRecord        = "record"
	AssertSameBase      = "same_base"
	AssertDistinctBases = "distinct_bases"
	AssertStoreVerified = "store_verified"
)

// Step operation names, as they appear in traces.
const (
	OpResolve = "resolve"
	OpStatus  = "status"
	OpRevise  = "revise"
	OpAdopt   = "adopt"
)

// Op returns the operation the step performs, or "" if it names none or
// several.
func (s Step) Op() string {
	var ops []string
	if s.Resolve != nil {
		ops = append(ops, OpResolve)
	}
	if s.Status != nil {
		ops = append(ops, OpStatus)
	}
	if s.Revise != nil {
		ops = append(ops, OpRevise)
	}
	if s.Adopt != nil {
		ops = append(ops, OpAdopt)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// FindScenarios returns the scenario files under path: path itself if it
// is a file, otherwise every *.yaml and *.yml file below it, sorted.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(where string, step Step) error {
	switch step.Op() {
	case "":
		return fmt.Errorf("%s: exactly one of resolve, status, revise, adopt is required", where)
	case OpRevise:
		if step.Revise.File == "" && step.Revise.Identity == "" {
			return fmt.Errorf("%s: revise needs file or identity", where)
		}
	case OpAdopt:
		if step.Adopt.File == "" || step.Adopt.PartNumber == "" {
			return fmt.Errorf("%s: adopt needs file and part_number", where)
		}
	}
	for j, e := range step.Expect {
		if e.File == "" {
			return fmt.Errorf("%s.expect[%d]: file is required", where, j)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRecordCount, AssertStoreVerified:
	case AssertRecord:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: record requires identity", index)
		}
	case AssertSameBase, AssertDistinctBases:
		if len(a.Files) < 2 {
			return fmt.Errorf("assertions[%d]: %s requires at least two files", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
