package document

import "testing"

func TestFromRawRoundTrip(t *testing.T) {
	raw := map[string]interface{}{
		"id":     "a1",
		"count":  float64(3),
		"active": true,
		"tags":   []interface{}{"x", "y"},
		"meta":   map[string]interface{}{"k": "v"},
		"note":   nil,
	}
	v := FromRaw(raw)
	obj, ok := v.Object()
	if !ok {
		t.Fatalf("expected object kind")
	}
	back := v.Raw()
	backMap, ok := back.(map[string]interface{})
	if !ok {
		t.Fatalf("Raw() did not return a map")
	}
	if backMap["id"] != "a1" || backMap["count"] != float64(3) {
		t.Errorf("round trip lost data: %#v", backMap)
	}
	if obj["note"].Kind() != KindNull {
		t.Errorf("expected note field to be null")
	}
}

func TestIDString(t *testing.T) {
	cases := []struct {
		rec  Record
		want string
		ok   bool
	}{
		{Record{"id": String("abc")}, "abc", true},
		{Record{"id": Number(42)}, "42", true},
		{Record{"id": Number(1.5)}, "1.5", true},
		{Record{}, "", false},
		{Record{"id": Bool(true)}, "", false},
	}
	for _, c := range cases {
		got, ok := c.rec.IDString()
		if got != c.want || ok != c.ok {
			t.Errorf("IDString(%v) = (%q, %v), want (%q, %v)", c.rec, got, ok, c.want, c.ok)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := Record{"tags": Array([]Value{String("a"), String("b")})}
	clone := original.Clone()

	arr, _ := clone["tags"].Array()
	arr[0] = String("mutated")

	origArr, _ := original["tags"].Array()
	if origArr[0].Raw() != "a" {
		t.Errorf("mutating the clone's array affected the original")
	}
}

func TestCompareOrdersAcrossKinds(t *testing.T) {
	if Compare(Null(), Bool(false)) >= 0 {
		t.Errorf("Null should sort before Bool")
	}
	if Compare(Number(1), Number(2)) >= 0 {
		t.Errorf("Number(1) should sort before Number(2)")
	}
	if Compare(String("a"), String("b")) >= 0 {
		t.Errorf("String(a) should sort before String(b)")
	}
	if Compare(Number(1), String("a")) >= 0 {
		t.Errorf("Number should sort before String")
	}
}
