package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// rawWorkflow mirrors the subset of the hosted CI workflow schema the
// router cares about: the job graph, each job's platform label, and the
// declared build outputs.
type rawWorkflow struct {
	Name string             `yaml:"name"`
	Jobs map[string]*rawJob `yaml:"jobs"`
}

type rawJob struct {
	Name   string      `yaml:"name"`
	RunsOn string      `yaml:"runs-on"`
	Needs  needsList   `yaml:"needs"`
	Steps  []rawStep   `yaml:"steps"`
	Build  *rawOutputs `yaml:"build,omitempty"`
}

type rawStep struct {
	Name string `yaml:"name"`
	Run  string `yaml:"run"`
	Uses string `yaml:"uses"`
	With struct {
		Path string `yaml:"path"`
	} `yaml:"with"`
}

type rawOutputs struct {
	Artifacts []string `yaml:"artifacts"`
}

// needsList accepts both scalar and sequence forms of `needs`
type needsList []string

func (n *needsList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		if single != "" {
			*n = []string{single}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*n = list
		return nil
	default:
		return fmt.Errorf("needs must be a job name or a list of job names")
	}
}

// LoadWorkflow parses a workflow file into the structured job graph
func LoadWorkflow(path string) (*types.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	def, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", filepath.Base(path), err)
	}
	def.Path = path
	return def, nil
}

// ParseWorkflow parses workflow YAML into the structured job graph
func ParseWorkflow(data []byte) (*types.WorkflowDefinition, error) {
	var raw rawWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Jobs) == 0 {
		return nil, fmt.Errorf("workflow has no jobs")
	}

	def := &types.WorkflowDefinition{
		Name: raw.Name,
		Jobs: make(map[string]types.WorkflowJob, len(raw.Jobs)),
	}
	for name, job := range raw.Jobs {
		if job == nil {
			continue
		}
		converted := types.WorkflowJob{
			Name:   name,
			RunsOn: job.RunsOn,
			Needs:  job.Needs,
		}
		for _, step := range job.Steps {
			if step.Run != "" {
				converted.Commands = append(converted.Commands, step.Run)
			}
			// upload-artifact steps declare the job's build outputs
			if strings.Contains(step.Uses, "upload-artifact") && step.With.Path != "" {
				converted.Artifacts = append(converted.Artifacts, step.With.Path)
			}
		}
		if job.Build != nil {
			converted.Artifacts = append(converted.Artifacts, job.Build.Artifacts...)
		}
		def.Jobs[name] = converted
	}
	return def, nil
}
