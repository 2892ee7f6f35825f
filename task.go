package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chelnak/ysmrr"
)

// TaskManager renders each step of a run as a spinner line. In plain mode
// messages are printed as lines instead; in quiet mode nothing is printed.
type TaskManager struct {
	sm         ysmrr.SpinnerManager
	out        io.Writer
	isOut      bool
	noProgress bool
}

type Task struct {
	spinner *ysmrr.Spinner
	manager *TaskManager
	title   string
}

func InitTaskManager(out io.Writer, quiet, plain bool) *TaskManager {
	isOut := !quiet
	tm := &TaskManager{out: out, isOut: isOut, noProgress: plain}
	if isOut && !plain {
		tm.sm = ysmrr.NewSpinnerManager()
		tm.sm.Start()
	}
	return tm
}

func (tm *TaskManager) spinning() bool {
	return tm.isOut && !tm.noProgress
}

func (tm *TaskManager) Stop() {
	if tm.spinning() {
		tm.sm.Stop()
	}
}

func (tm *TaskManager) Println(message string) {
	if !tm.isOut {
		return
	}
	if tm.noProgress {
		fmt.Fprintln(tm.out, message)
		return
	}
	task := &Task{manager: tm}
	task.spinner = tm.sm.AddSpinner(message)
	task.Complete()
}

// Run executes callback as one step titled title. A returned error marks
// the step as failed and is passed on.
func (tm *TaskManager) Run(title string, callback func(task *Task) error) error {
	task := &Task{manager: tm, title: title}
	if tm.spinning() {
		task.spinner = tm.sm.AddSpinner(title)
	}
	err := callback(task)
	if err != nil {
		task.Fail(err)
		return err
	}
	task.Complete()
	return nil
}

func (t *Task) Complete() {
	if t.spinner == nil {
		return
	}
	t.spinner.Complete()
}

func (t *Task) Fail(err error) {
	message := fmt.Sprintf("Fatal: %s, err: %v", strings.ToLower(t.title), err)
	if t.spinner != nil {
		t.spinner.UpdateMessage(message)
		t.spinner.Error()
		return
	}
	if t.manager.isOut {
		fmt.Fprintln(t.manager.out, message)
	}
}

// Updatef changes a live spinner message; plain output ignores it.
func (t *Task) Updatef(format string, a ...interface{}) {
	if t.spinner == nil {
		return
	}
	t.spinner.UpdateMessagef(format, a...)
}

// Printf sets the final message of the step.
func (t *Task) Printf(format string, a ...interface{}) {
	if !t.manager.isOut {
		return
	}
	if t.manager.noProgress {
		fmt.Fprintf(t.manager.out, format+"\n", a...)
		return
	}
	if t.spinner == nil {
		return
	}
	t.spinner.UpdateMessagef(format, a...)
}
