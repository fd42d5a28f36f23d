package jid

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"14155550000@s.whatsapp.net",
		"14155550000:1@s.whatsapp.net",
		"120363012345@g.us",
		"mychannel@newsletter",
		"status@broadcast",
	}
	for _, s := range cases {
		j, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := j.String(); got != s {
			t.Errorf("round trip mismatch: Parse(%q).String() = %q", s, got)
		}
	}
}

func TestClassOf(t *testing.T) {
	cases := map[string]Class{
		"1@s.whatsapp.net": ClassIndividual,
		"1@g.us":            ClassGroup,
		"1@newsletter":      ClassNewsletter,
		"status@broadcast":  ClassStatus,
		"1@lid":             ClassLID,
	}
	for s, want := range cases {
		j := MustParse(s)
		if got := ClassOf(j); got != want {
			t.Errorf("ClassOf(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestToNonAD(t *testing.T) {
	j := MustParse("14155550000:3@s.whatsapp.net")
	bare := j.ToNonAD()
	if bare.Device != 0 {
		t.Errorf("ToNonAD kept device: %+v", bare)
	}
	if bare.User != j.User || bare.Server != j.Server {
		t.Errorf("ToNonAD changed identity: %+v vs %+v", bare, j)
	}
}

func TestADString(t *testing.T) {
	j := MustParse("14155550000:2@s.whatsapp.net")
	if got, want := j.ADString(), "14155550000.2"; got != want {
		t.Errorf("ADString() = %q, want %q", got, want)
	}
	noDevice := MustParse("14155550000@s.whatsapp.net")
	if got, want := noDevice.ADString(), "14155550000.0"; got != want {
		t.Errorf("ADString() = %q, want %q", got, want)
	}
}
