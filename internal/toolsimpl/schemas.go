package toolsimpl

// Argument schemas for the reference tools. The CLI uses these twice: to
// gate arguments ahead of dispatch (toolschema.Wrap) and to advertise each
// tool's input shape to the LLM transport. Keeping one schema per tool in
// one place means the model is told exactly the shape the gate enforces.

var (
	ReadFileSchema = []byte(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path of the file to read"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`)

	WriteFileSchema = []byte(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path of the file to write"},
			"content": {"type": "string", "description": "Full new file content"}
		},
		"required": ["path", "content"],
		"additionalProperties": false
	}`)

	ShellSchema = []byte(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run"}
		},
		"required": ["command"],
		"additionalProperties": false
	}`)

	RememberSchema = []byte(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Key to store the fact under"},
			"value": {"type": "string", "description": "The fact to remember"}
		},
		"required": ["key", "value"],
		"additionalProperties": false
	}`)

	RecallMemoriesSchema = []byte(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Key of the fact to recall"}
		},
		"required": ["key"],
		"additionalProperties": false
	}`)
)
