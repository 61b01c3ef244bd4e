package model

// PipelineStepDecl is the declared (template-level) shape of a pipeline
// step: either the literal "main" marker, or a templated step naming the
// target resource and the action to run against it. Fields that can only be
// known at dispatch time (current resource properties, version) are resolved
// by the dispatcher, never persisted as placeholders.
type PipelineStepDecl struct {
	StepID               string `json:"stepId"`
	StepTitle            string `json:"stepTitle,omitempty"`
	ResourceID           string `json:"resourceId,omitempty"`
	ResourceTemplateName string `json:"resourceTemplateName,omitempty"`
	ResourceType         string `json:"resourceType,omitempty"`
	ResourceAction       Action `json:"resourceAction,omitempty"`
}

// IsMain reports whether the declaration is the "main" marker.
func (d PipelineStepDecl) IsMain() bool {
	return d.StepID == MainStepID
}

// Template is a catalog template definition. Only the fields the pipeline
// engine needs are modelled; template authoring is an external collaborator.
type Template struct {
	Name         string                        `json:"name"`
	Version      string                        `json:"version,omitempty"`
	ResourceType string                        `json:"resourceType"`
	Pipeline     map[Action][]PipelineStepDecl `json:"pipeline,omitempty"`
}

// PipelineFor returns the ordered step declarations for the action, or
// ok=false when the template declares no pipeline for it.
func (t *Template) PipelineFor(action Action) ([]PipelineStepDecl, bool) {
	if t == nil || len(t.Pipeline) == 0 {
		return nil, false
	}
	decls, ok := t.Pipeline[action]
	if !ok || len(decls) == 0 {
		return nil, false
	}
	return decls, true
}
