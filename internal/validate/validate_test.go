package validate

import (
	"errors"
	"strings"
	"testing"
)

type form struct {
	SeatNumber int    `json:"seatNumber" validate:"required,min=1"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name,omitempty" validate:"max=4"`
}

func TestMessage_UsesJSONNames(t *testing.T) {
	err := Struct(form{Email: "nope", Name: "too long"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := Message(err)
	for _, want := range []string{
		"seatNumber is required",
		"email must be a valid email",
		"name must be at most 4 characters",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q lacks %q", msg, want)
		}
	}
}

func TestMessage_PassesOtherErrors(t *testing.T) {
	if got := Message(errors.New("boom")); got != "boom" {
		t.Errorf("Message = %q", got)
	}
	if err := Struct(form{SeatNumber: 3, Email: "a@b.example"}); err != nil {
		t.Errorf("valid form rejected: %v", err)
	}
}
