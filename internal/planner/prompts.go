package planner

import (
	"fmt"
	"strings"

	"github.com/ai4ohs/ace/internal/types"
)

func weightHint(weight float64) string {
	switch {
	case weight >= types.WeightPrioritized:
		return "PRIORITY: HIGH. This file is flagged for integration; a thorough cleanup is welcome.\n"
	case weight > 0 && weight <= types.WeightDeprioritized:
		return "PRIORITY: LOW. This file is a pruning candidate; keep changes minimal.\n"
	default:
		return ""
	}
}

func wholeFilePrompt(c types.CandidateFile, content string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous Python refactoring assistant.\n")
	b.WriteString("Refactor the following file to improve readability, maintainability,\n")
	b.WriteString("type hints, and basic PEP8 compliance. Keep behaviour the same.\n")
	b.WriteString(weightHint(c.EffectiveWeight()))
	fmt.Fprintf(&b, "\nFILE PATH: %s\n\n", c.Path)
	b.WriteString("Return ONLY the full updated Python file, inside a ```python ... ``` block.\n\n")
	b.WriteString("-------- FILE START --------\n")
	b.WriteString(content)
	b.WriteString("\n-------- FILE END ----------\n")
	return b.String()
}

func smallPatchPrompt(c types.CandidateFile, content string) string {
	var b strings.Builder
	b.WriteString("You are a Python code quality assistant.\n")
	b.WriteString("Make a SMALL, SAFE improvement to the following file:\n")
	b.WriteString("- Add or improve module-level docstring if missing.\n")
	b.WriteString("- Add obvious type hints to simple functions if trivial.\n")
	b.WriteString("- Do NOT change business logic.\n")
	b.WriteString("- Keep the structure mostly the same.\n")
	b.WriteString(weightHint(c.EffectiveWeight()))
	fmt.Fprintf(&b, "\nFILE PATH: %s\n\n", c.Path)
	b.WriteString("Return ONLY the full updated Python file, inside a ```python ... ``` block.\n\n")
	b.WriteString("-------- FILE START --------\n")
	b.WriteString(content)
	b.WriteString("\n-------- FILE END ----------\n")
	return b.String()
}

func functionPrompt(path, name, body string) string {
	var b strings.Builder
	b.WriteString("You are a Python refactoring assistant.\n")
	b.WriteString("Refactor ONLY the given function, keep the same signature and behaviour.\n")
	b.WriteString("Improve readability, add missing type hints, and basic PEP8.\n\n")
	fmt.Fprintf(&b, "FILE: %s\nFUNCTION NAME: %s\n\n", path, name)
	b.WriteString("Return ONLY the updated function body, inside a ```python ... ``` block.\n\n")
	b.WriteString("-------- FUNCTION START --------\n")
	b.WriteString(body)
	b.WriteString("\n-------- FUNCTION END ----------\n")
	return b.String()
}

func chunkPrompt(path, name string, idx int, chunk string) string {
	var b strings.Builder
	b.WriteString("You are a Python refactoring assistant.\n")
	b.WriteString("You will receive a CHUNK of a large function body.\n")
	b.WriteString("Make very small refactors (spacing, trivial hints), do NOT change logic.\n")
	b.WriteString("Return chunk inside ```python``` block.\n\n")
	fmt.Fprintf(&b, "FILE: %s\nFUNCTION: %s\nCHUNK INDEX: %d\n\n", path, name, idx)
	b.WriteString("-------- CHUNK START --------\n")
	b.WriteString(chunk)
	b.WriteString("\n-------- CHUNK END ----------\n")
	return b.String()
}
