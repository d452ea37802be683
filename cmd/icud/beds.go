package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"icu-capacity-backend/internal/store"
)

// bedFile is the facility configuration format read by "beds import".
type bedFile struct {
	Beds []store.BedSpec `yaml:"beds"`
}

func loadBedFile(path string) ([]store.BedSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var file bedFile
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(file.Beds) == 0 {
		return nil, fmt.Errorf("%s lists no beds", path)
	}

	seen := make(map[string]bool, len(file.Beds))
	for i, b := range file.Beds {
		number := strings.TrimSpace(b.BedNumber)
		if number == "" {
			return nil, fmt.Errorf("bed %d in %s has no bed_number", i+1, path)
		}
		if seen[number] {
			return nil, fmt.Errorf("bed %s appears twice in %s", number, path)
		}
		seen[number] = true
		file.Beds[i].BedNumber = number
	}
	return file.Beds, nil
}
