package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/supervisor.txt
	supervisorRaw string

	//go:embed template/servicenow.txt
	servicenowRaw string

	//go:embed template/intune.txt
	intuneRaw string

	//go:embed template/m365.txt
	m365Raw string

	//go:embed template/outlook.txt
	outlookRaw string

	//go:embed template/access.txt
	accessRaw string

	//go:embed template/workflow.txt
	workflowRaw string

	//go:embed template/knowledge.txt
	knowledgeRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Supervisor string
	ServiceNow string
	Intune     string
	M365       string
	Outlook    string
	Access     string
	Workflow   string
	Knowledge  string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
// This is safe to call concurrently; the embed is compile-time, and trimming is cheap.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Supervisor: strings.TrimSpace(supervisorRaw),
		ServiceNow: strings.TrimSpace(servicenowRaw),
		Intune:     strings.TrimSpace(intuneRaw),
		M365:       strings.TrimSpace(m365Raw),
		Outlook:    strings.TrimSpace(outlookRaw),
		Access:     strings.TrimSpace(accessRaw),
		Workflow:   strings.TrimSpace(workflowRaw),
		Knowledge:  strings.TrimSpace(knowledgeRaw),
	}
}
