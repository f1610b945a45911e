package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "whsec_super-secret-signing-key-12345"

func TestSecretString_String(t *testing.T) {
	s := SecretString(testSecret)

	result := s.String()

	if result != redactedPlaceholder {
		t.Errorf("String() = %q, want %q", result, redactedPlaceholder)
	}
	if strings.Contains(result, testSecret) {
		t.Errorf("String() leaked the raw secret value")
	}
}

func TestSecretString_Sprintf(t *testing.T) {
	s := SecretString(testSecret)

	// Both %s and %v go through the fmt.Stringer interface.
	for _, verb := range []string{"%s", "%v"} {
		result := fmt.Sprintf("key="+verb, s)
		if strings.Contains(result, testSecret) {
			t.Errorf("fmt.Sprintf(%s) leaked the raw secret: %s", verb, result)
		}
		if result != "key="+redactedPlaceholder {
			t.Errorf("fmt.Sprintf(%s) = %q, want %q", verb, result, "key="+redactedPlaceholder)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	s := SecretString(testSecret)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("MarshalJSON returned error: %v", err)
	}
	if string(data) != string(redactedJSON) {
		t.Errorf("MarshalJSON = %s, want %s", data, redactedJSON)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("MarshalJSON leaked the raw secret value")
	}
}

func TestSecretString_MarshalJSONInsideStruct(t *testing.T) {
	payload := struct {
		Secret SecretString `json:"secret"`
	}{Secret: SecretString(testSecret)}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("struct marshal leaked the raw secret: %s", data)
	}
	if !strings.Contains(string(data), redactedPlaceholder) {
		t.Errorf("struct marshal missing redaction placeholder: %s", data)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)

	if got := s.Unmask(); got != testSecret {
		t.Errorf("Unmask() = %q, want the raw value", got)
	}
}

func TestSecretString_EmptyValue(t *testing.T) {
	var s SecretString

	if s.Unmask() != "" {
		t.Errorf("Unmask() on zero value = %q, want empty", s.Unmask())
	}
	// The redaction placeholder applies even when there is nothing to hide,
	// so log output never reveals whether a secret was set.
	if s.String() != redactedPlaceholder {
		t.Errorf("String() on zero value = %q, want %q", s.String(), redactedPlaceholder)
	}
}
