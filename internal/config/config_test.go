// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package config

import "testing"

func TestParseDevAddr(t *testing.T) {
	cfg, err := Parse([]byte(`UDOSL_DEVADDR = "/dev/ttyUSB0";`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DevAddr != "/dev/ttyUSB0" {
		t.Errorf("DevAddr = %q, want /dev/ttyUSB0", cfg.DevAddr)
	}
}

func TestParseOptionalSemicolon(t *testing.T) {
	cfg, err := Parse([]byte(`UDOSL_DEVADDR = "/dev/ttyACM1"`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DevAddr != "/dev/ttyACM1" {
		t.Errorf("DevAddr = %q, want /dev/ttyACM1", cfg.DevAddr)
	}
}

func TestParseComments(t *testing.T) {
	src := "# a comment line\n" +
		"UDOSL_DEVADDR = \"/dev/ttyACM2\" ; # trailing comment\n"
	cfg, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DevAddr != "/dev/ttyACM2" {
		t.Errorf("DevAddr = %q, want /dev/ttyACM2", cfg.DevAddr)
	}
}

func TestParseStringConcatenation(t *testing.T) {
	cfg, err := Parse([]byte(`UDOSL_DEVADDR = "/dev/" + "ttyACM3";`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DevAddr != "/dev/ttyACM3" {
		t.Errorf("DevAddr = %q, want /dev/ttyACM3", cfg.DevAddr)
	}
}

func TestParseUTF8BOM(t *testing.T) {
	src := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`UDOSL_DEVADDR = "/dev/ttyACM4";`)...)
	cfg, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DevAddr != "/dev/ttyACM4" {
		t.Errorf("DevAddr = %q, want /dev/ttyACM4", cfg.DevAddr)
	}
}

func TestParseDefaultDevAddr(t *testing.T) {
	cfg, err := Parse([]byte(``))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DevAddr != DefaultDevAddr {
		t.Errorf("DevAddr = %q, want default %q", cfg.DevAddr, DefaultDevAddr)
	}
}

func TestParseUnknownIdentifier(t *testing.T) {
	_, err := Parse([]byte(`UDOSL_BOGUS = "x";`))
	if err == nil {
		t.Fatal("expected error for unknown identifier")
	}
}

func TestParseMissingEquals(t *testing.T) {
	_, err := Parse([]byte(`UDOSL_DEVADDR "/dev/ttyACM0";`))
	if err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestParseUnterminatedString(t *testing.T) {
	_, err := Parse([]byte(`UDOSL_DEVADDR = "/dev/ttyACM0`))
	if err == nil {
		t.Fatal("expected error for unterminated string")
	}
}
