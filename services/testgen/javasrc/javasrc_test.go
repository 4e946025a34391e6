// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package javasrc

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const thingsTest = `package com.example.tests;

import io.restassured.response.Response;
import org.junit.jupiter.api.Test;

import static org.hamcrest.Matchers.*;
import static org.junit.jupiter.api.Assertions.assertEquals;

class Helper {}

public class ThingsTest extends BaseTest {

    @Test
    void createThing_valid() {
        given().body("{\"name\":\"a\"}").when().post("/things").then().statusCode(201);
    }

    @Test
    void createThing_emptyBody() {
        given().body("{}").when().post("/things").then().statusCode(anyOf(is(400), is(422)));
    }

    @Test
    void getThing_notFound() {
        Response r = given().when().get("/things/999999");
        assertEquals(404, r.getStatusCode());
        assertEquals(3, r.jsonPath().getList("items").size());
    }

    static class Nested {
        void helper_invalid() {
            int x = 42;
        }
    }
}
`

func TestParse(t *testing.T) {
	f, err := Parse(context.Background(), thingsTest)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.Package != "com.example.tests" {
		t.Errorf("Package = %q, want com.example.tests", f.Package)
	}
	if f.Class != "ThingsTest" {
		t.Errorf("Class = %q, want ThingsTest", f.Class)
	}
	if f.HasErrors {
		t.Error("HasErrors = true, want false")
	}

	tests := []struct {
		method string
		want   []int
	}{
		{"createThing_valid", []int{201}},
		{"createThing_emptyBody", []int{400, 422}},
		{"getThing_notFound", []int{404}},
		{"helper_invalid", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			m, ok := f.Method(tt.method)
			if !ok {
				t.Fatalf("Method(%q) not found", tt.method)
			}
			if diff := cmp.Diff(tt.want, m.Statuses); diff != "" {
				t.Errorf("Statuses mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if m, _ := f.Method("helper_invalid"); m.Class != "Nested" {
		t.Errorf("nested method Class = %q, want Nested", m.Class)
	}
}

func TestParse_MalformedSourceKeepsIntactMethods(t *testing.T) {
	src := `public class BrokenTest {
    void ok_invalidInput() { given().then().statusCode(400); }
    void broken() { int x = ; }
}`
	f, err := Parse(context.Background(), src)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !f.HasErrors {
		t.Error("HasErrors = false, want true")
	}
	m, ok := f.Method("ok_invalidInput")
	if !ok {
		t.Fatal("intact method not found")
	}
	if diff := cmp.Diff([]int{400}, m.Statuses); diff != "" {
		t.Errorf("Statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestIsNegativeName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"createThing_emptyBody", true},
		{"createUser_invalidEmail", true},
		{"getThing_notFound", true},
		{"deleteThing_nonexistentId", true},
		{"createThing_missingName", true},
		{"createThing_nameTooLong", true},
		{"createThing_name_too_long", true},
		{"createThing_valid", false},
		{"listThings", false},
	}
	for _, tt := range tests {
		if got := IsNegativeName(tt.name); got != tt.want {
			t.Errorf("IsNegativeName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClassName(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"public preferred", thingsTest, "ThingsTest"},
		{"package private", "class UsersTest {}", "UsersTest"},
		{"none", "// nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassName(context.Background(), tt.src); got != tt.want {
				t.Errorf("ClassName() = %q, want %q", got, tt.want)
			}
		})
	}
}
