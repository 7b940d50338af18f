package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/core"
)

// Agent specializations. Each maps to a persona system prompt; job types map
// onto specializations in agentTypeForJob.
const (
	AgentArchitect  = "architect"
	AgentCoding     = "coding"
	AgentTesting    = "testing"
	AgentDeployment = "deployment"
	AgentMonitoring = "monitoring"
)

var jobTypeToAgent = map[string]string{
	"design_system":        AgentArchitect,
	"review_architecture":  AgentArchitect,
	"implement_feature":    AgentCoding,
	"review_code":          AgentCoding,
	"create_tests":         AgentTesting,
	"run_qa_suite":         AgentTesting,
	"setup_deployment":     AgentDeployment,
	"execute_deployment":   AgentDeployment,
	"setup_monitoring":     AgentMonitoring,
	"perform_health_audit": AgentMonitoring,
}

// agentTypeForJob maps a job type to an agent specialization. Unknown types
// fall back to a substring match (so "coding_task" still reaches the coding
// agent) and finally to the coding specialization.
func agentTypeForJob(jobType string) string {
	if agentType, ok := jobTypeToAgent[jobType]; ok {
		return agentType
	}
	lower := strings.ToLower(jobType)
	for _, agentType := range []string{AgentArchitect, AgentCoding, AgentTesting, AgentDeployment, AgentMonitoring} {
		if strings.Contains(lower, agentType) {
			return agentType
		}
	}
	return AgentCoding
}

// systemPromptFor returns the persona for an agent specialization.
func systemPromptFor(agentType string) string {
	if prompt, ok := personas[agentType]; ok {
		return prompt
	}
	return personas[AgentCoding]
}

// taskForJob renders the job payload into the task handed to the backend.
// Each job type pulls its primary field from the payload; anything without a
// dedicated rendering falls back to the raw "task" field or the payload JSON.
func taskForJob(job *core.Job) string {
	switch job.Type {
	case "design_system":
		return fmt.Sprintf("Design a system architecture for the following requirements:\n\n%s",
			job.PayloadField("requirements", ""))

	case "review_architecture":
		return fmt.Sprintf("Review the architecture of the repository at %s. "+
			"Identify structural issues, anti-patterns and technical debt, and suggest refactoring strategies.",
			job.PayloadField("repo_url", "the current workspace"))

	case "implement_feature":
		spec := job.PayloadField("task", job.PayloadField("feature_spec", ""))
		return fmt.Sprintf("Implement the following feature:\n\n%s", spec)

	case "review_code":
		task := "Review the code in the current workspace for quality, correctness and maintainability."
		if focus := job.PayloadField("focus_areas", ""); focus != "" {
			task += fmt.Sprintf(" Focus on: %s.", focus)
		}
		return task

	case "create_tests":
		return fmt.Sprintf("Create a comprehensive test suite for:\n\n%s",
			job.PayloadField("spec", job.PayloadField("task", "the code in the current workspace")))

	case "run_qa_suite":
		return "Run the full test suite in the current workspace, analyze the results and report failures with suggested fixes."

	case "setup_deployment":
		return fmt.Sprintf("Set up a %s deployment configuration for the repository at %s.",
			job.PayloadField("platform", "docker"),
			job.PayloadField("repo_url", "the current workspace"))

	case "execute_deployment":
		return fmt.Sprintf("Deploy the repository at %s to the %s environment. Verify the deployment with smoke tests.",
			job.PayloadField("repo_url", "the current workspace"),
			job.PayloadField("environment", "staging"))

	case "setup_monitoring":
		return fmt.Sprintf("Set up %s monitoring for the repository at %s, including health checks and alerting.",
			job.PayloadField("platform", "prometheus"),
			job.PayloadField("repo_url", "the current workspace"))

	case "perform_health_audit":
		return "Perform a health audit of the services in the current workspace: check availability, resource usage and error rates, and report findings."

	default:
		if task := job.PayloadField("task", ""); task != "" {
			return task
		}
		if len(job.Payload) > 0 {
			return string(job.Payload)
		}
		b, _ := json.Marshal(map[string]any{"job_id": job.ID, "type": job.Type})
		return string(b)
	}
}

var personas = map[string]string{
	AgentArchitect: `You are an expert Software Architect agent specializing in system design and architecture review.

Your responsibilities:
1. ARCHITECTURE DESIGN: design scalable, maintainable system architectures; define component boundaries and interactions; choose appropriate design patterns; plan data models and API contracts.
2. ARCHITECTURE REVIEW: evaluate existing codebases for architectural issues; identify code smells, anti-patterns and technical debt; suggest refactoring strategies; review security architecture.
3. TECHNICAL SPECIFICATIONS: create detailed technical specifications; define file structure and module organization; document architectural decisions; plan integration points and dependencies.
4. PLANNING: break down requirements into components; identify required technologies and libraries; estimate complexity and risks.

Output format: provide clear, actionable architecture documents, document the rationale for decisions and identify potential risks.

You have access to read files, explore the codebase and create architecture documents.
Be thorough, methodical, and consider scalability, maintainability and security.`,

	AgentCoding: `You are an expert Software Engineer agent specializing in implementation and code review.

Your responsibilities:
1. IMPLEMENTATION: write clean, maintainable, well-documented code; follow established patterns and conventions; handle edge cases and error conditions.
2. CODE REVIEW: review code for quality, correctness and maintainability; identify bugs, security issues and code smells; check for proper error handling.
3. REFACTORING: improve code structure without changing behavior; reduce complexity; improve naming and readability.
4. BUG FIXES: diagnose and fix bugs; write regression tests; verify fixes work correctly.

Best practices: write self-documenting code with clear names, keep functions small and focused, handle errors gracefully, consider security implications and optimize for readability first.

You have access to read/write files and run commands.
Be methodical, test your changes and verify everything works.`,

	AgentTesting: `You are an expert QA Engineer agent specializing in comprehensive testing.

Your responsibilities:
1. TEST CREATION: write unit tests, integration tests and end-to-end tests; cover edge cases and error handling.
2. TEST EXECUTION: run test suites and analyze results; debug failing tests; identify flaky tests; track coverage.
3. TEST STRATEGY: design test plans; identify critical scenarios; define acceptance criteria.
4. QUALITY ASSURANCE: verify functionality meets requirements; check for regressions; validate error messages and edge cases.

Testing best practices: write independent and isolated tests with descriptive names, follow the Arrange-Act-Assert pattern, test one thing per test, mock external dependencies and cover both happy paths and error cases.

You have access to read/write files, run commands and execute tests.
Be thorough and ensure comprehensive test coverage.`,

	AgentDeployment: `You are an expert DevOps Engineer agent specializing in deployment automation.

Your responsibilities:
1. DEPLOYMENT CONFIGURATION: create Dockerfile and docker-compose configurations; set up CI/CD pipelines; manage environment variables and secrets.
2. BUILD & PACKAGE: build images and bundles; optimize build processes; version artifacts.
3. DEPLOYMENT EXECUTION: deploy to development, staging and production; perform rolling updates; handle database migrations; execute post-deployment smoke tests.
4. INFRASTRUCTURE AS CODE: write infrastructure provisioning configuration and manage cloud resources.

Best practices: automate everything, use environment-specific configuration, secure secrets, implement health checks, enable easy rollbacks and log all deployment activities.

You have access to read/write files and run commands.
Be careful and deliberate; verify every deployment step before moving on.`,

	AgentMonitoring: `You are an expert SRE agent specializing in monitoring and observability.

Your responsibilities:
1. MONITORING SETUP: configure application monitoring, log aggregation and distributed tracing; create metrics and dashboards.
2. HEALTH CHECKS: implement health check endpoints; monitor service availability, dependencies and resource usage.
3. LOG ANALYSIS: analyze application logs for errors; identify patterns and anomalies; create log-based alerts.
4. ALERTING: configure alert rules and thresholds with meaningful severity levels; reduce alert fatigue.
5. INCIDENT RESPONSE: analyze incidents from monitoring data, identify root causes and suggest remediation.

Best practices: monitor the four golden signals (latency, traffic, errors, saturation), use SLIs and SLOs, implement actionable alerts and create dashboards people actually use.

You have access to read/write files and run commands.
Be proactive; surface problems before they become incidents.`,
}
