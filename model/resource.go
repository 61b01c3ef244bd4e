package model

import "time"

// Resource is a provisioned resource document. The operation and its steps
// are the source of truth for lifecycle progress; DeploymentStatus is a
// read-optimized mirror of the latest known status of the step targeting
// this resource.
type Resource struct {
	ID               string         `json:"id"`
	TemplateName     string         `json:"templateName"`
	TemplateVersion  string         `json:"templateVersion,omitempty"`
	ResourceType     string         `json:"resourceType"`
	ResourcePath     string         `json:"resourcePath,omitempty"`
	ResourceVersion  int            `json:"resourceVersion"`
	DeploymentStatus Status         `json:"deploymentStatus"`
	Properties       map[string]any `json:"properties,omitempty"`
	UpdatedWhen      time.Time      `json:"updatedWhen"`
}
