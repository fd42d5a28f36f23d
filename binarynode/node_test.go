package binarynode

import "testing"

func TestAttrsAccessors(t *testing.T) {
	a := Attrs{"id": "42", "to": "14155550000@s.whatsapp.net"}

	if got, ok := a.GetUint64("id"); !ok || got != 42 {
		t.Errorf("GetUint64(id) = %v, %v", got, ok)
	}
	if _, ok := a.GetUint64("missing"); ok {
		t.Error("GetUint64(missing) should report absent")
	}

	j, ok := a.GetJID("to")
	if !ok || j.User != "14155550000" {
		t.Errorf("GetJID(to) = %+v, %v", j, ok)
	}

	if got, ok := a.OptionalString("id"); !ok || got != "42" {
		t.Errorf("OptionalString(id) = %q, %v", got, ok)
	}
	if _, ok := a.OptionalString("missing"); ok {
		t.Error("OptionalString(missing) should report absent")
	}
}

func TestNodeChildLookup(t *testing.T) {
	n := Node{
		Tag: "message",
		Content: []Node{
			{Tag: "enc", Attrs: Attrs{"type": "pkmsg"}},
			{Tag: "enc", Attrs: Attrs{"type": "msg"}},
		},
	}
	c, ok := n.GetChildByTag("enc")
	if !ok || c.Attrs.GetString("type") != "pkmsg" {
		t.Errorf("GetChildByTag returned %+v, %v", c, ok)
	}
	if _, ok := n.GetChildByTag("missing"); ok {
		t.Error("GetChildByTag(missing) should report absent")
	}
}
