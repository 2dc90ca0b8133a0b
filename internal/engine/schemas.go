// Copyright 2025 James Ross
package engine

import "github.com/0xPBIT/maiar-ai-sub000/internal/capability"

// PipelineSchema accepts the ordered step list the model plans for a
// task.
var PipelineSchema = capability.MustSchema(`{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["pluginId", "action"],
    "properties": {
      "pluginId": {"type": "string", "minLength": 1},
      "action": {"type": "string", "minLength": 1}
    },
    "additionalProperties": false
  }
}`)

// ModificationSchema accepts the model's verdict on whether the
// remaining pipeline should change after a step.
var ModificationSchema = capability.MustSchema(`{
  "type": "object",
  "required": ["shouldModify", "explanation"],
  "properties": {
    "shouldModify": {"type": "boolean"},
    "explanation": {"type": "string"},
    "modifiedSteps": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["pluginId", "action"],
        "properties": {
          "pluginId": {"type": "string", "minLength": 1},
          "action": {"type": "string", "minLength": 1}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`)
