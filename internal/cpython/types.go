// Package cpython implements the CPython object-lifetime policy as a facet
// over the abstract interpretation engine: reference-count tracking, the
// thread-local exception indicator, models for a subset of the Python C API,
// and the post-trace verifier that turns final states into findings.
package cpython

import "github.com/cpyref/refscan/internal/cfg"

var (
	pyObjectStruct     *cfg.StructType
	pyTypeObjectStruct *cfg.StructType
)

func init() {
	pyObjectStruct = &cfg.StructType{Name: "PyObject"}
	pyTypeObjectStruct = &cfg.StructType{Name: "PyTypeObject"}
	pyObjectStruct.Fields = []cfg.StructField{
		{Name: "ob_refcnt", Type: &cfg.IntType{Name: "Py_ssize_t"}},
		{Name: "ob_type", Type: &cfg.PointerType{Elem: pyTypeObjectStruct}},
	}
	pyTypeObjectStruct.Fields = []cfg.StructField{
		{Name: "tp_name", Type: &cfg.PointerType{Elem: &cfg.CharType{}}},
		{Name: "tp_dealloc", Type: &cfg.VoidType{}},
	}
}

// PyObjectPtr returns the PyObject* type.
func PyObjectPtr() cfg.Type {
	return &cfg.PointerType{Elem: pyObjectStruct}
}

// PyTypeObjectPtr returns the PyTypeObject* type.
func PyTypeObjectPtr() cfg.Type {
	return &cfg.PointerType{Elem: pyTypeObjectStruct}
}

// Types returns the record layouts merged into YAML type tables so that
// documents can declare PyObject*-typed variables.
func Types() cfg.TypeTable {
	t := cfg.BuiltinTypes()
	t["PyObject"] = pyObjectStruct
	t["PyTypeObject"] = pyTypeObjectStruct
	return t
}

// IsPyObjectPtr reports whether t is PyObject* or a pointer to a PyObject
// subclass. A record is a subclass when its leading fields follow the object
// header layout: ob_refcnt then ob_type, or an ob_base header.
func IsPyObjectPtr(t cfg.Type) bool {
	ptr, ok := t.(*cfg.PointerType)
	if !ok {
		return false
	}
	st, ok := ptr.Elem.(*cfg.StructType)
	if !ok {
		return false
	}
	if st.Name == "PyObject" {
		return true
	}
	if len(st.Fields) >= 2 && st.Fields[0].Name == "ob_refcnt" && st.Fields[1].Name == "ob_type" {
		return true
	}
	return len(st.Fields) >= 1 && st.Fields[0].Name == "ob_base"
}
