package priority

import "testing"

func TestScoreTagsSetFloor(t *testing.T) {
	if got := Score(0, []string{"live"}, "Alpha 4.3"); got != 80 {
		t.Errorf("live tag: expected 80, got %d", got)
	}
	if got := Score(0, []string{"ptu"}, "Alpha 4.3"); got != 50 {
		t.Errorf("ptu tag: expected 50, got %d", got)
	}
}

func TestScoreTitleKeywordsSetFloor(t *testing.T) {
	if got := Score(0, nil, "Emergency Hotfix Released"); got != 85 {
		t.Errorf("hotfix: expected 85, got %d", got)
	}
	if got := Score(0, nil, "CRITICAL server issue"); got != 85 {
		t.Errorf("critical: expected 85, got %d", got)
	}
	if got := Score(0, nil, "Roadmap Update"); got != 60 {
		t.Errorf("roadmap: expected 60, got %d", got)
	}
	if got := Score(0, nil, "Server Status"); got != 60 {
		t.Errorf("status: expected 60, got %d", got)
	}
}

func TestScoreNeverLowersBase(t *testing.T) {
	if got := Score(90, []string{"live"}, "Alpha 4.3"); got != 90 {
		t.Errorf("expected base to win when higher, got %d", got)
	}
}

func TestScoreCombinesHigherOfMultipleRules(t *testing.T) {
	if got := Score(0, []string{"live"}, "Critical Hotfix"); got != 85 {
		t.Errorf("expected max(80,85)=85, got %d", got)
	}
}

func TestScoreDefaultsToBaseWhenNothingMatches(t *testing.T) {
	if got := Score(10, []string{"misc"}, "Community Spotlight"); got != 10 {
		t.Errorf("expected unchanged base 10, got %d", got)
	}
}
