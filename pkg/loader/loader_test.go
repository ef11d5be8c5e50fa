package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ritzau/hardy-cross/pkg/solver"
)

const triangleJSON = `{
  "method": "darcy",
  "nodes": [
    {"id": "A", "demand": 10},
    {"id": "B", "demand": -4},
    {"id": "C", "demand": -6}
  ],
  "pipes": [
    {"id": "AB", "start_node": "A", "end_node": "B", "resistance": 1},
    {"id": "BC", "start_node": "B", "end_node": "C", "length": 100, "diameter": 0.3},
    {"id": "CA", "start_node": "C", "end_node": "A", "resistance": 2, "given_flow": -5}
  ]
}`

const triangleYAML = `method: darcy
nodes:
  - id: A
    demand: 10
  - id: B
    demand: -4
  - id: C
    demand: -6
pipes:
  - id: AB
    start_node: A
    end_node: B
    resistance: 1
  - id: BC
    start_node: B
    end_node: C
    length: 100
    diameter: 0.3
  - id: CA
    start_node: C
    end_node: A
    resistance: 2
    given_flow: -5
`

const triangleTOML = `method = "darcy"

[[nodes]]
id = "A"
demand = 10.0

[[nodes]]
id = "B"
demand = -4.0

[[nodes]]
id = "C"
demand = -6.0

[[pipes]]
id = "AB"
start_node = "A"
end_node = "B"
resistance = 1.0

[[pipes]]
id = "BC"
start_node = "B"
end_node = "C"
length = 100.0
diameter = 0.3

[[pipes]]
id = "CA"
start_node = "C"
end_node = "A"
resistance = 2.0
given_flow = -5.0
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func checkTriangle(t *testing.T, req *solver.Request) {
	t.Helper()

	if req.Method != solver.MethodDarcy {
		t.Errorf("Expected method darcy, got %q", req.Method)
	}
	if len(req.Nodes) != 3 || len(req.Pipes) != 3 {
		t.Fatalf("Expected 3 nodes and 3 pipes, got %d and %d", len(req.Nodes), len(req.Pipes))
	}
	if req.Nodes[0].Demand == nil || *req.Nodes[0].Demand != 10 {
		t.Errorf("Expected node A demand 10, got %v", req.Nodes[0].Demand)
	}

	ab, bc, ca := req.Pipes[0], req.Pipes[1], req.Pipes[2]
	if ab.StartNode != "A" || ab.EndNode != "B" {
		t.Errorf("Expected AB to run A -> B, got %s -> %s", ab.StartNode, ab.EndNode)
	}
	if ab.Resistance == nil || *ab.Resistance != 1 {
		t.Errorf("Expected AB resistance 1, got %v", ab.Resistance)
	}
	if bc.Resistance != nil {
		t.Errorf("Expected BC resistance to be absent, got %v", *bc.Resistance)
	}
	if bc.Diameter == nil || *bc.Diameter != 0.3 {
		t.Errorf("Expected BC diameter 0.3, got %v", bc.Diameter)
	}
	if ca.GivenFlow == nil || *ca.GivenFlow != -5 {
		t.Errorf("Expected CA given flow -5, got %v", ca.GivenFlow)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"network.json", triangleJSON},
		{"network.yaml", triangleYAML},
		{"network.yml", triangleYAML},
		{"network.toml", triangleTOML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Load(writeFile(t, tt.name, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			checkTriangle(t, req)
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "network.xml", "<network/>")

	_, err := Load(path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if Supported(path) {
		t.Errorf("Expected .xml to be unsupported")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Expected a not-exist error, got %v", err)
	}
}

func TestDecodeReportsFileFormat(t *testing.T) {
	_, err := Decode(strings.NewReader("{not json"), FormatJSON)
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if !strings.Contains(err.Error(), "JSON") {
		t.Errorf("Expected the error to name the format, got %v", err)
	}
}
