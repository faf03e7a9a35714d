package project_test

import (
	"testing"

	"github.com/polypm-dev/polypm/internal/project"
)

func TestValidateName(t *testing.T) {
	if err := project.ValidateName("express", "javascript"); err != nil {
		t.Fatalf("express: %v", err)
	}

	if err := project.ValidateName("@types/node", "javascript"); err != nil {
		t.Fatalf("@types/node: %v", err)
	}

	if err := project.ValidateName("Express", "javascript"); err == nil {
		t.Fatal("expected uppercase npm name to be rejected")
	}

	if err := project.ValidateName("", ""); err == nil {
		t.Fatal("expected empty name to be rejected")
	}

	if err := project.ValidateName("my package", ""); err == nil {
		t.Fatal("expected space in name to be rejected")
	}
}

func TestValidateScriptName(t *testing.T) {
	if err := project.ValidateScriptName("build"); err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := project.ValidateScriptName("../malicious"); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}

	if err := project.ValidateScriptName("script/name"); err == nil {
		t.Fatal("expected path separator to be rejected")
	}
}

func TestValidateEcosystem(t *testing.T) {
	if err := project.ValidateEcosystem("python"); err != nil {
		t.Fatalf("python: %v", err)
	}

	if err := project.ValidateEcosystem("ruby"); err == nil {
		t.Fatal("expected unknown ecosystem to be rejected")
	}
}
