package parser

import "testing"

func TestRecoverEventListFencedBlock(t *testing.T) {
	content := "```json\n[{\"type\":\"bottle\",\"amount\":150}]\n```"
	list := RecoverEventList(content)
	if len(list) != 1 {
		t.Fatalf("expected 1 object, got %d", len(list))
	}
	if list[0]["type"] != "bottle" {
		t.Fatalf("expected type bottle, got %v", list[0]["type"])
	}
	if list[0]["amount"] != float64(150) {
		t.Fatalf("expected amount 150, got %v", list[0]["amount"])
	}
}

func TestRecoverEventListRawArray(t *testing.T) {
	list := RecoverEventList(`[{"type":"sleep"},{"type":"diaper"}]`)
	if len(list) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(list))
	}
}

func TestRecoverEventListSingleObjectWrapped(t *testing.T) {
	list := RecoverEventList(`{"type":"swimming","duration":20}`)
	if len(list) != 1 {
		t.Fatalf("expected wrapped object, got %d", len(list))
	}
	if list[0]["type"] != "swimming" {
		t.Fatalf("expected type swimming, got %v", list[0]["type"])
	}
}

func TestRecoverEventListEmbeddedObject(t *testing.T) {
	content := `好的，解析结果如下：{"type":"bottle","amount":"120"} 请确认。`
	list := RecoverEventList(content)
	if len(list) != 1 {
		t.Fatalf("expected embedded object to be found, got %d", len(list))
	}
	if list[0]["amount"] != "120" {
		t.Fatalf("expected raw string amount preserved, got %v", list[0]["amount"])
	}
}

func TestRecoverEventListGarbage(t *testing.T) {
	if got := RecoverEventList("not json at all"); got != nil {
		t.Fatalf("expected nil for garbage input, got %v", got)
	}
	if got := RecoverEventList(""); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}
