package serializer

import "testing"

type widget struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestJSON_RoundTrip(t *testing.T) {
	var s JSON
	data, err := s.Serialize(widget{Name: "bolt", Count: 3})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var got widget
	if err := s.Deserialize(data, &got); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Name != "bolt" || got.Count != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestYAML_RoundTrip(t *testing.T) {
	var s YAML
	data, err := s.Serialize(widget{Name: "nut", Count: 7})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var got widget
	if err := s.Deserialize(data, &got); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Name != "nut" || got.Count != 7 {
		t.Fatalf("got %+v", got)
	}
}

func TestYAML_DeserializeInvalidReturnsError(t *testing.T) {
	var s YAML
	var got widget
	if err := s.Deserialize([]byte("not: [valid: yaml"), &got); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}
