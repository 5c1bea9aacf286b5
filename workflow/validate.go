package workflow

import (
	"fmt"
	"strings"
)

// ValidationError reports structural problems in a workflow definition.
// It is returned from Builder.Build and Registry.Define; a definition
// that validates never produces structural errors at runtime.
type ValidationError struct {
	WorkflowID string
	Issues     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q: invalid definition: %s",
		e.WorkflowID, strings.Join(e.Issues, "; "))
}

// CondArm is one guarded arm of a conditional construct: the index of
// the If/ElseIf node carrying the predicate and the half-open range of
// body nodes it guards.
type CondArm struct {
	Node      int
	BodyStart int
	BodyEnd   int
}

// CondBlock is the compiled layout of one If...EndIf construct.
type CondBlock struct {
	Arms      []CondArm
	ElseStart int // -1 when no Else arm
	ElseEnd   int
	End       int // index of the EndIf node
}

// Program is the compiled form of a node sequence: the nodes themselves,
// the conditional block layout keyed by If node index, and compiled
// sub-programs for While bodies keyed by While node index.
type Program struct {
	Nodes  []NodeSpec
	Blocks map[int]*CondBlock
	Bodies map[int]*Program

	// Kinds maps every node name, including While body nodes, to its
	// kind. Populated on the root program only.
	Kinds map[string]NodeKind
}

// compile validates a node sequence and produces its Program. It checks
// that every If has a matching EndIf, that ElseIf/Else bind to the
// nearest open If, and that node names are unique across the whole
// workflow (including While bodies).
func compile(workflowID string, nodes []NodeSpec) (*Program, error) {
	seen := make(map[string]struct{})
	var issues []string

	prog, issues := compileSeq(nodes, seen, issues)
	if len(issues) > 0 {
		return nil, &ValidationError{WorkflowID: workflowID, Issues: issues}
	}
	prog.Kinds = make(map[string]NodeKind, len(seen))
	collectKinds(prog, prog.Kinds)
	return prog, nil
}

func collectKinds(prog *Program, kinds map[string]NodeKind) {
	for i := range prog.Nodes {
		kinds[prog.Nodes[i].Name] = prog.Nodes[i].Kind
	}
	for _, body := range prog.Bodies {
		collectKinds(body, kinds)
	}
}

// openBlock tracks an If construct while scanning its arms.
type openBlock struct {
	block    *CondBlock
	armStart int
	sawElse  bool
}

func compileSeq(nodes []NodeSpec, seen map[string]struct{}, issues []string) (*Program, []string) {
	prog := &Program{
		Nodes:  nodes,
		Blocks: make(map[int]*CondBlock),
		Bodies: make(map[int]*Program),
	}

	var stack []*openBlock

	closeArm := func(ob *openBlock, end int) {
		if ob.sawElse {
			ob.block.ElseEnd = end
			return
		}
		n := len(ob.block.Arms)
		ob.block.Arms[n-1].BodyEnd = end
	}

	for i := range nodes {
		n := &nodes[i]

		if n.Name == "" {
			issues = append(issues, fmt.Sprintf("node %d (%s) has no name", i, n.Kind))
		} else if _, dup := seen[n.Name]; dup {
			issues = append(issues, fmt.Sprintf("duplicate node name %q", n.Name))
		} else {
			seen[n.Name] = struct{}{}
		}

		switch n.Kind {
		case KindIf:
			cb := &CondBlock{ElseStart: -1}
			cb.Arms = append(cb.Arms, CondArm{Node: i, BodyStart: i + 1})
			prog.Blocks[i] = cb
			stack = append(stack, &openBlock{block: cb})
			if n.Predicate == nil {
				issues = append(issues, fmt.Sprintf("if node %q has no predicate", n.Name))
			}

		case KindElseIf:
			if len(stack) == 0 {
				issues = append(issues, fmt.Sprintf("elseif node %q outside of if", n.Name))
				continue
			}
			ob := stack[len(stack)-1]
			if ob.sawElse {
				issues = append(issues, fmt.Sprintf("elseif node %q after else", n.Name))
				continue
			}
			closeArm(ob, i)
			ob.block.Arms = append(ob.block.Arms, CondArm{Node: i, BodyStart: i + 1})
			if n.Predicate == nil {
				issues = append(issues, fmt.Sprintf("elseif node %q has no predicate", n.Name))
			}

		case KindElse:
			if len(stack) == 0 {
				issues = append(issues, fmt.Sprintf("else node %q outside of if", n.Name))
				continue
			}
			ob := stack[len(stack)-1]
			if ob.sawElse {
				issues = append(issues, fmt.Sprintf("duplicate else node %q", n.Name))
				continue
			}
			closeArm(ob, i)
			ob.sawElse = true
			ob.block.ElseStart = i + 1

		case KindEndIf:
			if len(stack) == 0 {
				issues = append(issues, fmt.Sprintf("endif node %q without matching if", n.Name))
				continue
			}
			ob := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			closeArm(ob, i)
			ob.block.End = i

		case KindWhile:
			if n.Predicate == nil {
				issues = append(issues, fmt.Sprintf("while node %q has no predicate", n.Name))
			}
			var body *Program
			body, issues = compileSeq(n.Body, seen, issues)
			prog.Bodies[i] = body

		case KindStep, KindAction:
			if n.Handler == nil {
				issues = append(issues, fmt.Sprintf("%s node %q has no handler", n.Kind, n.Name))
			}
			if n.Cache != nil && n.Cache.Key == nil {
				issues = append(issues, fmt.Sprintf("step node %q has a cache policy without a key function", n.Name))
			}

		case KindParallel, KindRace:
			if len(n.Branches) == 0 {
				issues = append(issues, fmt.Sprintf("%s node %q has no branches", n.Kind, n.Name))
			}

		case KindForEach:
			if n.Items == nil || n.ItemFn == nil {
				issues = append(issues, fmt.Sprintf("foreach node %q needs an items source and an item handler", n.Name))
			}

		case KindBatch:
			if n.Items == nil || n.BatchFn == nil {
				issues = append(issues, fmt.Sprintf("batch node %q needs an items source and a batch handler", n.Name))
			}
			if n.BatchSize <= 0 {
				issues = append(issues, fmt.Sprintf("batch node %q needs a positive batch size", n.Name))
			}

		case KindSubflow:
			if n.SubflowID == "" {
				issues = append(issues, fmt.Sprintf("subflow node %q has no target workflow id", n.Name))
			}

		case KindSleep:
			if n.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("sleep node %q needs a positive duration", n.Name))
			}

		case KindWaitEvent:
			if n.EventName == "" {
				issues = append(issues, fmt.Sprintf("wait node %q has no event name", n.Name))
			}

		case KindHuman, KindLog, KindCancel:
			// No structural requirements beyond a unique name.

		default:
			issues = append(issues, fmt.Sprintf("node %q has unknown kind %q", n.Name, n.Kind))
		}
	}

	for _, ob := range stack {
		armNode := ob.block.Arms[0].Node
		issues = append(issues, fmt.Sprintf("if node %q lacks a matching endif", nodes[armNode].Name))
	}

	return prog, issues
}
