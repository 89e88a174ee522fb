package policy

import (
	"reflect"
	"testing"
)

func contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

func TestAllowedTools_Purity(t *testing.T) {
	p := Policy{HasMetaculusToken: true, HasSearchKey: true, Retrodict: true}
	first := p.AllowedTools(true)
	second := p.AllowedTools(true)
	if !reflect.DeepEqual(first, second) {
		t.Error("same inputs must produce the same tool list")
	}
}

func TestAllowedTools_SpawnExclusion(t *testing.T) {
	p := Policy{HasMetaculusToken: true}
	if contains(p.AllowedTools(false), ToolSpawnSubquestions) {
		t.Error("allow_spawn=false must strip the composer tool")
	}
	if !contains(p.AllowedTools(true), ToolSpawnSubquestions) {
		t.Error("allow_spawn=true must include the composer tool")
	}
}

func TestAllowedTools_CredentialGating(t *testing.T) {
	none := Policy{}
	set := none.AllowedTools(false)
	for _, name := range []string{ToolGetQuestions, ToolSearchExa, ToolSearchNews, ToolFredSeries} {
		if contains(set, name) {
			t.Errorf("%s allowed without its credential", name)
		}
	}
	// Credential-free tools survive.
	for _, name := range []string{ToolWikiSearch, ToolNotes, ToolPredictionHistory} {
		if !contains(set, name) {
			t.Errorf("%s should not require a credential", name)
		}
	}
}

func TestAllowedTools_RetrodictExclusions(t *testing.T) {
	p := Policy{HasSearchKey: true, HasNewsKey: true, Retrodict: true}
	set := p.AllowedTools(false)

	for _, name := range []string{ToolSearchNews, ToolStockPrice, ToolPolymarketPrice, ToolManifoldPrice} {
		if contains(set, name) {
			t.Errorf("live tool %s must be excluded in retrodict mode", name)
		}
	}
	if !contains(set, ToolSearchExa) {
		t.Error("search_exa stays available in retrodict mode (with rewritten parameters)")
	}
	if !contains(set, ToolRetrodictSearch) {
		t.Error("archive-only search must be added in retrodict mode")
	}
	if !contains(set, ToolStockHistory) {
		t.Error("history variants stay available in retrodict mode")
	}

	live := Policy{HasSearchKey: true, HasNewsKey: true}
	if contains(live.AllowedTools(false), ToolRetrodictSearch) {
		t.Error("archive-only search must not appear outside retrodict mode")
	}
}

func TestAllowedTools_SandboxGating(t *testing.T) {
	if contains(Policy{}.AllowedTools(false), ToolExecuteCode) {
		t.Error("sandbox tools need a container runtime")
	}
	if !contains(Policy{SandboxEnabled: true}.AllowedTools(false), ToolExecuteCode) {
		t.Error("sandbox tools missing despite runtime available")
	}
}
