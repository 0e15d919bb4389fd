package cron

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	triggerSeparator   = ";"
	scheduleSeparator  = ":"
	batchListSeparator = ","
)

// TriggerSpec pairs a schedule with the batches it runs.
type TriggerSpec struct {
	Batches  []string `yaml:"batches" json:"batches"`
	Schedule string   `yaml:"schedule" json:"schedule"`
}

// ParseTriggerSpecs parses the compact command line form
//
//	batch1,batch2:0 2 * * *;batch3:@hourly
//
// and validates each trigger against known batch names.
func ParseTriggerSpecs(spec string, known func(string) bool) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	var specs []TriggerSpec
	for _, part := range strings.Split(spec, triggerSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		batches, schedule, ok := strings.Cut(part, scheduleSeparator)
		if !ok {
			return nil, fmt.Errorf("invalid trigger spec: expected format 'batches:schedule', got '%s'", part)
		}
		ts := TriggerSpec{Schedule: strings.TrimSpace(schedule)}
		for _, b := range strings.Split(batches, batchListSeparator) {
			if b = strings.TrimSpace(b); b != "" {
				ts.Batches = append(ts.Batches, b)
			}
		}
		if err := ts.Validate(known); err != nil {
			return nil, fmt.Errorf("invalid trigger spec '%s': %w", part, err)
		}
		specs = append(specs, ts)
	}
	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}
	return specs, nil
}

// Validate checks the schedule and batch list. known may be nil to skip
// the batch name check.
func (ts TriggerSpec) Validate(known func(string) bool) error {
	if len(ts.Batches) == 0 {
		return errors.New("no batches")
	}
	if ts.Schedule == "" {
		return errors.New("missing schedule")
	}
	for i, b := range ts.Batches {
		if slices.Contains(ts.Batches[:i], b) {
			return fmt.Errorf("duplicate batch '%s'", b)
		}
		if known != nil && !known(b) {
			return fmt.Errorf("unknown batch '%s'", b)
		}
	}
	if _, err := ParseSchedule(ts.Schedule); err != nil {
		return err
	}
	return nil
}

// String formats the spec in the compact form accepted by ParseTriggerSpecs.
func (ts TriggerSpec) String() string {
	return strings.Join(ts.Batches, batchListSeparator) + scheduleSeparator + ts.Schedule
}
