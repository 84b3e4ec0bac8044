package common

import (
	"encoding/json"
	"fmt"
)

// Judgement is a registrar's assessment of an on-chain identity.
type Judgement string

const (
	JudgementUnknown    Judgement = "Unknown"
	JudgementFeePaid    Judgement = "FeePaid"
	JudgementReasonable Judgement = "Reasonable"
	JudgementKnownGood  Judgement = "KnownGood"
	JudgementOutOfDate  Judgement = "OutOfDate"
	JudgementLowQuality Judgement = "LowQuality"
	JudgementErroneous  Judgement = "Erroneous"
	JudgementRequested  Judgement = "Requested"
)

var judgements = []Judgement{
	JudgementUnknown,
	JudgementFeePaid,
	JudgementReasonable,
	JudgementKnownGood,
	JudgementOutOfDate,
	JudgementLowQuality,
	JudgementErroneous,
	JudgementRequested,
}

func (j Judgement) IsValid() bool {
	for _, v := range judgements {
		if v == j {
			return true
		}
	}
	return false
}

func (j Judgement) String() string {
	return string(j)
}

// Set parses a judgement name.
func (j *Judgement) Set(s string) error {
	v := Judgement(s)
	if !v.IsValid() {
		return fmt.Errorf("unknown judgement: %q", s)
	}
	*j = v
	return nil
}

func (j Judgement) MarshalText() ([]byte, error) {
	return []byte(j), nil
}

func (j *Judgement) UnmarshalText(text []byte) error {
	return j.Set(string(text))
}

// UnmarshalJSON accepts both a bare name and the decoder's enum form
// `{"__kind": "KnownGood"}`. FeePaid carries a value that is discarded.
func (j *Judgement) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return j.Set(s)
	}
	var kind struct {
		Kind string `json:"__kind"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		return fmt.Errorf("judgement: %w", err)
	}
	return j.Set(kind.Kind)
}
