package models

import "testing"

func TestValidatePersonaWeightsSumsToOne(t *testing.T) {
	if err := ValidatePersonaWeights(); err != nil {
		t.Fatalf("ValidatePersonaWeights() = %v, want nil", err)
	}
}

func TestValidatePersonaWeightsDetectsDrift(t *testing.T) {
	original := PersonaWeight[PersonaArchitect]
	PersonaWeight[PersonaArchitect] = original + 0.01
	defer func() { PersonaWeight[PersonaArchitect] = original }()

	if err := ValidatePersonaWeights(); err == nil {
		t.Fatal("ValidatePersonaWeights() = nil, want error after perturbing a weight")
	}
}

func TestStepPersonaRoundTrip(t *testing.T) {
	for _, id := range Personas {
		step := PersonaStep(id)
		got, ok := StepPersona(step)
		if !ok {
			t.Fatalf("StepPersona(%v) ok = false", step)
		}
		if got != id {
			t.Fatalf("StepPersona(PersonaStep(%v)) = %v, want %v", id, got, id)
		}
	}
}

func TestStepOrderIsCanonical(t *testing.T) {
	want := []StepName{
		StepExpand, StepReviewArchitect, StepReviewCritic, StepReviewOptimist,
		StepReviewSecurityGuardian, StepReviewUserAdvocate, StepAggregateDecision,
	}
	if len(StepOrder) != len(want) {
		t.Fatalf("len(StepOrder) = %d, want %d", len(StepOrder), len(want))
	}
	for i, s := range want {
		if StepOrder[i] != s {
			t.Fatalf("StepOrder[%d] = %v, want %v", i, StepOrder[i], s)
		}
		if StepOrderOf(s) != i {
			t.Fatalf("StepOrderOf(%v) = %d, want %d", s, StepOrderOf(s), i)
		}
	}
	if IsCanonicalStep("not_a_step") {
		t.Fatal("IsCanonicalStep(\"not_a_step\") = true, want false")
	}
}
