package skills

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a user skill file:
//
//	skills:
//	  - name: long_kernels
//	    title: Long Kernels
//	    description: Kernels running longer than a threshold.
//	    category: kernels
//	    sql: |
//	      SELECT ... WHERE k.[end] - k.start > :min_ns LIMIT :limit
//	    params:
//	      - {name: min_ns, type: int, default: 1000000}
//	      - {name: limit, type: int, default: 20}
//	    tags: [kernel, duration]
type File struct {
	Skills []FileSkill `yaml:"skills"`
}

// FileSkill is one skill definition in a File. User skills use the default
// table formatter.
type FileSkill struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	SQL         string   `yaml:"sql"`
	Params      []Param  `yaml:"params"`
	Tags        []string `yaml:"tags"`
}

// LoadFile reads and validates the skills defined in a YAML file.
func LoadFile(path string) ([]*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading skill file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML skill definitions.
func Parse(data []byte) ([]*Skill, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing skill file: %w", err)
	}

	out := make([]*Skill, 0, len(f.Skills))
	for i, fs := range f.Skills {
		s := &Skill{
			Name:        fs.Name,
			Title:       fs.Title,
			Description: fs.Description,
			Category:    fs.Category,
			SQL:         fs.SQL,
			Params:      fs.Params,
			Tags:        fs.Tags,
		}
		if s.Title == "" {
			s.Title = s.Name
		}
		if s.Category == "" {
			s.Category = CategoryUtility
		}
		for j := range s.Params {
			if s.Params[j].Type == "" {
				s.Params[j].Type = TypeStr
			}
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("skills[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
