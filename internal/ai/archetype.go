package ai

import "strings"

// ArchetypeUnknown is returned whenever the backend cannot name one of the
// known archetypes.
const ArchetypeUnknown = "unknown"

// Archetype is one label of the closed classification set.
type Archetype struct {
	Name   string
	Traits string
}

// Archetypes is the closed set the classifier must choose from.
var Archetypes = []Archetype{
	{Name: "strategist", Traits: "long-horizon thinking, frames problems in terms of goals and trade-offs, prioritizes ruthlessly"},
	{Name: "executor", Traits: "bias to action, drives work to completion, concrete milestones and measurable results"},
	{Name: "collaborator", Traits: "builds consensus, credits others, resolves conflict through listening and alignment"},
	{Name: "innovator", Traits: "proposes novel approaches, experiments, comfortable with ambiguity and change"},
	{Name: "analyst", Traits: "data-driven, methodical, decomposes problems and validates assumptions with evidence"},
}

// NormalizeArchetype maps label onto the closed set, or ArchetypeUnknown.
func NormalizeArchetype(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.Trim(l, `"'.`)
	for _, a := range Archetypes {
		if a.Name == l {
			return a.Name
		}
	}
	return ArchetypeUnknown
}
