// Package harness loads scenario files and runs them against an agent
// runtime.
//
// A scenario names a fixture, a command for the agent, scripted answers for
// the interactive questions the agent may ask, and the assertions that must
// hold afterwards. Each attempt runs in a private copy of the fixture that is
// deleted when the attempt ends.
//
// # Scenario Format
//
// Scenario files are YAML with the following structure:
//
//	name: start-specification
//	description: "Specification contract"
//	type: contract
//	scenarios:
//	  - name: creates spec from discussion
//	    fixture: minimal/has-discussion
//	    command: /workflow/start-specification
//	    args: auth
//	    choices:
//	      - match: "which discussion"
//	        answer: auth-flow
//	      - match: "sections"
//	        answer: [Summary, Decisions]
//	    preconditions:
//	      - exists: docs/discussion/auth-flow.md
//	    assertions:
//	      - exists: docs/specification/auth-flow.md
//	      - has_sections:
//	          path: docs/specification/auth-flow.md
//	          sections: ["## Summary"]
//	    invariants:
//	      - "docs/discussion/**"
//	    config:
//	      timeout: 5m
//	      model: sonnet
//	      runs: 3
//	      pass_threshold: 2/3
//
// Unknown keys are rejected. The assertion kinds are documented in package
// assertion.
//
// # Lifecycle
//
// Every attempt moves through the same states:
//
//	pending -> fixture-ready -> executed -> validated -> passed | failed
//
// Setup, precondition, and agent failures end the attempt as error. A
// scenario with config.skip set is reported as skipped without touching the
// filesystem. Teardown runs on every path out of fixture-ready.
//
// # Repeat Policy
//
// config.runs repeats a scenario in fresh working copies; pass_threshold
// ("M/N") is the number of attempts that must pass. The default threshold
// requires every attempt to pass.
package harness
