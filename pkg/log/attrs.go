package log

import "log/slog"

func ProcessID[T ~string](id T) slog.Attr {
	return slog.String("process_id", string(id))
}

func DefinitionID[T ~string](id T) slog.Attr {
	return slog.String("definition_id", string(id))
}

func ExecutionID[T ~string](id T) slog.Attr {
	return slog.String("execution_id", string(id))
}

func ActivityID[T ~string](id T) slog.Attr {
	return slog.String("activity_id", string(id))
}

func JobID[T ~string](id T) slog.Attr {
	return slog.String("job_id", string(id))
}

func DeploymentID[T ~string](id T) slog.Attr {
	return slog.String("deployment_id", string(id))
}

func EventType[T ~string](typ T) slog.Attr {
	return slog.String("event_type", string(typ))
}

func LockOwner(owner string) slog.Attr {
	return slog.String("lock_owner", owner)
}

func Command(name string) slog.Attr {
	return slog.String("command", name)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
