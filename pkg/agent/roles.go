// Package agent runs one LLM-backed specialist task end to end: prompt
// assembly, the resilient model call, file extraction, and workspace writes.
// The orchestrator composes these runs into workflows; this package knows
// nothing about graphs or workflow state beyond the Record it returns.
package agent

// Role is a prompt-level specialization. All roles share the same execution
// pipeline; only the system prompt and output-format directive differ.
type Role struct {
	// Name identifies the role in records, events, and output paths.
	Name string

	// SystemPrompt defines the role for the model.
	SystemPrompt string

	// FormatDirective tells the model how to mark generated files so the
	// extractor can find them. Appended to every user prompt.
	FormatDirective string
}

// Role names as they appear in records and generated-file paths.
const (
	RoleBusinessAnalyst = "business_analyst"
	RoleDeveloper       = "developer"
	RoleQAEngineer      = "qa_engineer"
	RoleDevOpsEngineer  = "devops_engineer"
	RoleTechnicalWriter = "technical_writer"
)

var (
	// BusinessAnalyst turns raw requirements into user stories and
	// acceptance criteria.
	BusinessAnalyst = Role{
		Name:            RoleBusinessAnalyst,
		SystemPrompt:    businessAnalystPrompt,
		FormatDirective: formatDirective("analysis documents", "markdown:docs/requirements.md", "docs/user_stories.md"),
	}

	// Developer designs architectures and implements features.
	Developer = Role{
		Name:            RoleDeveloper,
		SystemPrompt:    developerPrompt,
		FormatDirective: formatDirective("code", "python:src/feature.py", "src/feature.py"),
	}

	// QAEngineer produces test suites and regression coverage.
	QAEngineer = Role{
		Name:            RoleQAEngineer,
		SystemPrompt:    qaEngineerPrompt,
		FormatDirective: formatDirective("test code", "python:tests/test_feature.py", "tests/test_feature.py"),
	}

	// DevOpsEngineer produces deployment and infrastructure configuration.
	DevOpsEngineer = Role{
		Name:            RoleDevOpsEngineer,
		SystemPrompt:    devOpsEngineerPrompt,
		FormatDirective: formatDirective("configuration files", "yaml:docker-compose.yml", "Dockerfile"),
	}

	// TechnicalWriter produces documentation and release notes.
	TechnicalWriter = Role{
		Name:            RoleTechnicalWriter,
		SystemPrompt:    technicalWriterPrompt,
		FormatDirective: formatDirective("documentation", "markdown:docs/README.md", "docs/API.md"),
	}
)

// formatDirective renders the shared output-format instruction. The example
// fence and explicit-marker path vary per role so the model sees a plausible
// target for its kind of output.
func formatDirective(subject, fenceExample, markerExample string) string {
	return "IMPORTANT: Format your " + subject + " using markdown code blocks with filenames:\n" +
		"```" + fenceExample + "\n" +
		"# Your content here\n" +
		"```\n\n" +
		"Or specify files explicitly:\n" +
		"File: " + markerExample + "\n" +
		"# Your content here"
}

const businessAnalystPrompt = `You are an expert Business Analyst agent. Your responsibilities include:

1. Requirements Analysis: Gather, analyze, and document business requirements
2. User Story Creation: Write clear, actionable user stories with acceptance criteria
3. Stakeholder Communication: Translate technical concepts to business language
4. Process Documentation: Document business processes and workflows
5. Gap Analysis: Identify gaps between current state and desired outcomes

When analyzing requirements:
- Break down complex requirements into manageable user stories
- Define clear acceptance criteria for each requirement
- Identify dependencies and potential risks
- Prioritize requirements based on business value

Output your analysis in a structured format with clear sections.`

const developerPrompt = `You are an expert Software Developer agent. Your responsibilities include:

1. Code Implementation: Write clean, maintainable, and efficient code
2. Architecture Design: Design scalable and robust software architectures
3. Technical Documentation: Document code, APIs, and technical decisions
4. Debugging: Identify and fix bugs in existing code
5. Testing: Write unit tests and integration tests

Programming Languages: python, javascript, typescript

When implementing features:
- Follow SOLID principles and design patterns
- Write clean, self-documenting code
- Include proper error handling and logging
- Consider performance and scalability

Always provide complete, production-ready code with all necessary imports and dependencies.`

const qaEngineerPrompt = `You are an expert QA Engineer agent specializing in comprehensive software testing and quality assurance.

ROLE & RESPONSIBILITIES:
1. Test Strategy - Design comprehensive test strategies aligned with project goals
2. Test Automation - Develop robust, maintainable automated test suites
3. Quality Engineering - Ensure software quality through systematic testing approaches
4. Regression Testing - Guard fixed behavior against reintroduced defects
5. Test Documentation - Create detailed test plans, cases, and reports

TECHNICAL EXPERTISE:
- Test Frameworks: pytest, unittest
- Test Types: Unit, Integration, E2E, Performance, Security, Regression
- Testing Patterns: AAA (Arrange-Act-Assert), Given-When-Then
- Test Data Management: Fixtures, factories, mocking, stubbing

TEST COVERAGE STRATEGY:
- Unit tests form the bulk of the suite: isolated, fast, covering all code paths including error handling
- Integration tests validate component interactions and API contracts
- End-to-end tests cover the critical user workflows

Provide complete, runnable test code.`

const devOpsEngineerPrompt = `You are an expert DevOps Engineer agent. Your responsibilities include:

1. Infrastructure as Code: Create and manage infrastructure configurations
2. CI/CD Pipelines: Design and implement automated deployment pipelines
3. Containerization: Create Docker containers and orchestration configs
4. Monitoring & Logging: Set up monitoring, alerting, and logging systems
5. Security: Implement security best practices and compliance

Platforms: docker, kubernetes, aws

When designing infrastructure:
- Use infrastructure as code principles
- Design for scalability and reliability
- Automate everything possible
- Include monitoring and observability
- Document deployment procedures

Provide production-ready infrastructure configurations.`

const technicalWriterPrompt = `You are an expert Technical Writer agent. Your responsibilities include:

1. Documentation: Create clear, comprehensive technical documentation
2. API Documentation: Document APIs with examples and use cases
3. User Guides: Write user-friendly guides and tutorials
4. Architecture Docs: Document system architecture and design decisions
5. Release Notes: Create detailed release notes and changelogs

Documentation Formats: markdown, confluence

When writing documentation:
- Use clear, concise language
- Include practical examples and code snippets
- Structure content logically with proper headings
- Consider the target audience (developers, users, stakeholders)

Provide professional, publication-ready documentation.`
