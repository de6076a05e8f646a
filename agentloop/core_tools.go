package agentloop

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// lastResultKey is the ToolContext key arithmetic tools publish results under.
const lastResultKey = "last_result"

// ArithmeticInput is the input of add and multiply.
type ArithmeticInput struct {
	A float64 `json:"a" jsonschema_description:"First operand"`
	B float64 `json:"b" jsonschema_description:"Second operand"`
}

// NumberOutput carries a single numeric result.
type NumberOutput struct {
	Result float64 `json:"result" jsonschema_description:"Computed value"`
}

// AddTool returns a tool that adds two numbers.
func AddTool() Tool {
	return MustNewTool("add", "Add two numbers and return the sum.",
		func(_ context.Context, tc *ToolContext, in ArithmeticInput) (NumberOutput, error) {
			return publish(tc, "add", in.A+in.B), nil
		})
}

// MultiplyTool returns a tool that multiplies two numbers.
func MultiplyTool() Tool {
	return MustNewTool("multiply", "Multiply two numbers and return the product.",
		func(_ context.Context, tc *ToolContext, in ArithmeticInput) (NumberOutput, error) {
			return publish(tc, "multiply", in.A*in.B), nil
		})
}

func publish(tc *ToolContext, source string, v float64) NumberOutput {
	if tc != nil {
		tc.Set(lastResultKey, v, source)
	}
	return NumberOutput{Result: v}
}

// CalculatorInput is the input of the calculator tool.
type CalculatorInput struct {
	Expression string `json:"expression" jsonschema_description:"Arithmetic expression such as '2 + 3 * (4 - 1)'. Use 'ans' for the previous result."`
}

// CalculatorTool returns a tool that evaluates arithmetic expressions with
// + - * / %, unary signs and parentheses. Nothing else is evaluated.
func CalculatorTool() Tool {
	return MustNewTool("calculator", "Evaluate an arithmetic expression and return the result.",
		func(_ context.Context, tc *ToolContext, in CalculatorInput) (NumberOutput, error) {
			v, err := Evaluate(in.Expression, tc)
			if err != nil {
				return NumberOutput{}, RecoverableError("calculator", "cannot evaluate %q: %v", in.Expression, err)
			}
			return publish(tc, "calculator", v), nil
		})
}

// Evaluate computes an arithmetic expression. The identifier "ans" refers to
// the last result stored in tc.
func Evaluate(expr string, tc *ToolContext) (float64, error) {
	if strings.Contains(expr, "//") || strings.Contains(expr, "/*") {
		return 0, errors.New("comments are not allowed")
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, fmt.Errorf("syntax error: %w", err)
	}
	return eval(node, tc)
}

func eval(node ast.Expr, tc *ToolContext) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT:
			i, err := strconv.ParseInt(n.Value, 0, 64)
			return float64(i), err
		case token.FLOAT:
			return strconv.ParseFloat(n.Value, 64)
		}
		return 0, fmt.Errorf("unsupported literal %s", n.Value)
	case *ast.Ident:
		if n.Name != "ans" || tc == nil {
			return 0, fmt.Errorf("unknown name %q", n.Name)
		}
		return GetAs[float64](tc, lastResultKey)
	case *ast.ParenExpr:
		return eval(n.X, tc)
	case *ast.UnaryExpr:
		x, err := eval(n.X, tc)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x, nil
		case token.SUB:
			return -x, nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	case *ast.BinaryExpr:
		x, err := eval(n.X, tc)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y, tc)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		case token.REM:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return math.Mod(x, y), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return 0, fmt.Errorf("unsupported expression %T", node)
}

// WriteFileInput is the input of write_file.
type WriteFileInput struct {
	Filename  string `json:"filename" jsonschema_description:"Plain file name, without directories"`
	Content   string `json:"content" jsonschema_description:"Text to write"`
	Overwrite bool   `json:"overwrite,omitempty" jsonschema_description:"Replace the file if it already exists"`
}

// WriteFileOutput reports where a file was written.
type WriteFileOutput struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// WriteFileTool returns a tool that writes text files into ws.
func WriteFileTool(ws *Workspace) Tool {
	return MustNewTool("write_file", "Create a text file in the output directory and return its path.",
		func(_ context.Context, _ *ToolContext, in WriteFileInput) (WriteFileOutput, error) {
			path, err := ws.WriteFile(in.Filename, in.Content, in.Overwrite)
			switch {
			case errors.Is(err, ErrOutsideWorkspace):
				return WriteFileOutput{}, RecoverableError("write_file", "%v; retry with a plain file name", err)
			case errors.Is(err, ErrFileExists):
				return WriteFileOutput{}, RecoverableError("write_file", "%v; set overwrite to true to replace it", err)
			case err != nil:
				return WriteFileOutput{}, &ToolError{Tool: "write_file", Message: err.Error(), Cause: err}
			}
			return WriteFileOutput{Path: path, Bytes: len(in.Content)}, nil
		}, Blocking())
}

// ReadFileInput is the input of read_file.
type ReadFileInput struct {
	Filename string `json:"filename" jsonschema_description:"Plain file name, without directories"`
}

// FileContent is the output of read_file. The model sees the raw text.
type FileContent struct {
	Content string `json:"content"`
}

// Summary returns the file text.
func (f FileContent) Summary() string { return f.Content }

// ReadFileTool returns a tool that reads text files from ws.
func ReadFileTool(ws *Workspace) Tool {
	return MustNewTool("read_file", "Read a text file from the output directory.",
		func(_ context.Context, _ *ToolContext, in ReadFileInput) (FileContent, error) {
			content, err := ws.ReadFile(in.Filename)
			if err != nil {
				return FileContent{}, RecoverableError("read_file", "%v", err)
			}
			return FileContent{Content: content}, nil
		}, Blocking())
}

// RegisterCoreTools registers add, multiply and calculator, plus write_file
// and read_file when ws is not nil.
func RegisterCoreTools(reg *Registry, ws *Workspace) error {
	tools := []Tool{AddTool(), MultiplyTool(), CalculatorTool()}
	if ws != nil {
		tools = append(tools, WriteFileTool(ws), ReadFileTool(ws))
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
