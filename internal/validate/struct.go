// Copyright 2025 James Ross
package validate

// Struct2 validates two independent fields of S and, if both succeed,
// builds O from their values. Unlike Chain, both validators always run:
// failures from both fields are reported together.
func Struct2[S, A, B, O any](
	fa Field[S, A], fb Field[S, B],
	build func(A, B) O,
) Validator[S, O] {
	return func(s S) Result[O] {
		ra := fa.Validate(s)
		rb := fb.Validate(s)
		errs := collectErrors(fieldErrs(fa.Path, ra), fieldErrs(fb.Path, rb))
		if len(errs) > 0 {
			return Invalid[O](errs)
		}
		av, _ := ra.Value()
		bv, _ := rb.Value()
		return Ok(build(av, bv))
	}
}

// Struct3 is Struct2 for three fields.
func Struct3[S, A, B, C, O any](
	fa Field[S, A], fb Field[S, B], fc Field[S, C],
	build func(A, B, C) O,
) Validator[S, O] {
	return func(s S) Result[O] {
		ra := fa.Validate(s)
		rb := fb.Validate(s)
		rc := fc.Validate(s)
		errs := collectErrors(fieldErrs(fa.Path, ra), fieldErrs(fb.Path, rb), fieldErrs(fc.Path, rc))
		if len(errs) > 0 {
			return Invalid[O](errs)
		}
		av, _ := ra.Value()
		bv, _ := rb.Value()
		cv, _ := rc.Value()
		return Ok(build(av, bv, cv))
	}
}

// Struct4 is Struct2 for four fields.
func Struct4[S, A, B, C, D, O any](
	fa Field[S, A], fb Field[S, B], fc Field[S, C], fd Field[S, D],
	build func(A, B, C, D) O,
) Validator[S, O] {
	return func(s S) Result[O] {
		ra := fa.Validate(s)
		rb := fb.Validate(s)
		rc := fc.Validate(s)
		rd := fd.Validate(s)
		errs := collectErrors(fieldErrs(fa.Path, ra), fieldErrs(fb.Path, rb), fieldErrs(fc.Path, rc), fieldErrs(fd.Path, rd))
		if len(errs) > 0 {
			return Invalid[O](errs)
		}
		av, _ := ra.Value()
		bv, _ := rb.Value()
		cv, _ := rc.Value()
		dv, _ := rd.Value()
		return Ok(build(av, bv, cv, dv))
	}
}

func fieldErrs[T any](path string, r Result[T]) Errors {
	if r.IsOk() {
		return nil
	}
	return r.Errors()
}

func collectErrors(groups ...Errors) Errors {
	var out Errors
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
