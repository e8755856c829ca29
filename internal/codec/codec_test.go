package codec

import "testing"

func TestJSON_RoundTrip(t *testing.T) {
	type payload struct {
		Name  string
		Count int
	}

	in := payload{Name: "widgets", Count: 7}
	data, err := JSON.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out payload
	if err := JSON.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestGob_RoundTrip(t *testing.T) {
	type payload struct {
		Name  string
		Count int
	}

	in := payload{Name: "widgets", Count: 7}
	data, err := Gob.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out payload
	if err := Gob.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}
