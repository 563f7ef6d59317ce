// Package profile holds the candidate and target-role profiles that seed an
// interview session. The structured values are produced by external parsers
// (resume extraction, job-posting retrieval); this package only defines their
// shape and loads pre-parsed profiles from disk.
package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CandidateProfile is the structured summary of a candidate's resume.
type CandidateProfile struct {
	Name       string   `json:"name" yaml:"name"`
	Headline   string   `json:"headline,omitempty" yaml:"headline"`
	Summary    string   `json:"summary,omitempty" yaml:"summary"`
	Skills     []string `json:"skills,omitempty" yaml:"skills"`
	Experience []Role   `json:"experience,omitempty" yaml:"experience"`
	Education  []string `json:"education,omitempty" yaml:"education"`
}

// Role is one prior position on the candidate's resume.
type Role struct {
	Title      string   `json:"title" yaml:"title"`
	Company    string   `json:"company,omitempty" yaml:"company"`
	Years      int      `json:"years,omitempty" yaml:"years"`
	Highlights []string `json:"highlights,omitempty" yaml:"highlights"`
}

// RoleProfile is the structured summary of the job posting the candidate is
// interviewing for.
type RoleProfile struct {
	Title        string   `json:"title" yaml:"title"`
	Company      string   `json:"company,omitempty" yaml:"company"`
	Seniority    string   `json:"seniority,omitempty" yaml:"seniority"`
	Description  string   `json:"description,omitempty" yaml:"description"`
	Requirements []string `json:"requirements,omitempty" yaml:"requirements"`
}

// LoadCandidate reads a candidate profile from a YAML file.
func LoadCandidate(path string) (CandidateProfile, error) {
	var p CandidateProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read candidate profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse candidate profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("validate candidate profile: %w", err)
	}
	return p, nil
}

// LoadRole reads a role profile from a YAML file.
func LoadRole(path string) (RoleProfile, error) {
	var p RoleProfile
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read role profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse role profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("validate role profile: %w", err)
	}
	return p, nil
}

// Validate checks the minimum fields the interview peer requires.
func (p CandidateProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	for i, r := range p.Experience {
		if strings.TrimSpace(r.Title) == "" {
			return fmt.Errorf("experience[%d].title is required", i)
		}
	}
	return nil
}

// Validate checks the minimum fields the interview peer requires.
func (p RoleProfile) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
