package sample

// Compile into a relocatable object and resolve against it:
//
//	lazylink compile -k sample -o sample.o sample.go
//	lazylink resolve -k sample -r sample.Run -r sample.Name -r sample.Missing sample.o

var runs int

func Run() int {
	runs++
	return runs
}

func Name() string {
	return "sample"
}
