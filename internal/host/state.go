package host

type State int

const (
	Configuring State = iota
	Building
	DevPipeline
	PipelineAssembled
	Serving
	Stopped
)

func (s State) String() string {
	switch s {
	case Configuring:
		return "Configuring"
	case Building:
		return "Building"
	case DevPipeline:
		return "DevPipeline"
	case PipelineAssembled:
		return "PipelineAssembled"
	case Serving:
		return "Serving"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}
