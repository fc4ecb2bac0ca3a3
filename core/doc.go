// Package core defines the domain model of the argus detection core.
//
// # Overview
//
// The core package provides:
//   - Dataset identity (DatasetType, DatasetKind) shared by the registry and rules
//   - Rule definitions (SiemRule, SiemSubRule, RuleCondition, RuleState)
//   - The closed RuleOperator family evaluated by package detect
//   - Alert templates (AlertGenerator) and rendered alerts (SiemAlert)
//   - The error taxonomy used by loaders, producers and the evaluator
//
// # Rule lifecycle
//
// Rules are plain values. A rule coming from a document, a translator or an
// admin producer must pass through CompileRule before it is published to the
// rule catalog: CompileRule validates the definition, compiles regular
// expressions and derives the datasets the rule needs. Compiled rules are
// never mutated afterwards and are shared by every evaluating goroutine.
package core
