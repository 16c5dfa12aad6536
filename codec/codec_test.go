package codec

import "testing"

type sample struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		in := sample{ID: 7, Name: "cats"}

		data, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("%s marshal: %v", c.Name(), err)
		}

		var out sample
		if err := c.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s unmarshal: %v", c.Name(), err)
		}
		if out != in {
			t.Errorf("%s round trip: got %+v, want %+v", c.Name(), out, in)
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		if !ok {
			t.Fatalf("ByName(%q) not found", name)
		}
		if c.Name() != name {
			t.Errorf("ByName(%q).Name() = %q", name, c.Name())
		}
	}

	if _, ok := ByName("msgpack"); ok {
		t.Error("ByName should not know msgpack")
	}
}
