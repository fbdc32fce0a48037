package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageHasNext(t *testing.T) {
	tests := []struct {
		name string
		page Page[int]
		want bool
	}{
		{"last page", Page[int]{CurrentPage: 3, LastPage: 3}, false},
		{"before last", Page[int]{CurrentPage: 2, LastPage: 3}, true},
		{"next link only", Page[int]{CurrentPage: 1, LastPage: 1, NextPageURL: "https://api.example.com/users?page=2"}, true},
		{"empty", Page[int]{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.page.HasNext())
		})
	}
}
