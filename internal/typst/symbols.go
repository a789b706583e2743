package typst

// symbols maps LaTeX math commands without arguments onto Typst math
// notation. Commands missing from the table are emitted by name, which
// covers the many symbols both languages spell the same way.
var symbols = map[string]string{
	// Greek letters whose Typst names differ from LaTeX.
	"epsilon":    "epsilon.alt",
	"varepsilon": "epsilon",
	"phi":        "phi.alt",
	"varphi":     "phi",
	"vartheta":   "theta.alt",
	"varpi":      "pi.alt",
	"varrho":     "rho.alt",
	"varsigma":   "sigma.alt",
	"varkappa":   "kappa.alt",

	// relations
	"leq":       "<=",
	"le":        "<=",
	"leqslant":  "lt.eq.slant",
	"geq":       ">=",
	"ge":        ">=",
	"geqslant":  "gt.eq.slant",
	"neq":       "!=",
	"ne":        "!=",
	"approx":    "approx",
	"equiv":     "equiv",
	"sim":       "tilde.op",
	"simeq":     "tilde.eq",
	"cong":      "tilde.equiv",
	"propto":    "prop",
	"ll":        "<<",
	"gg":        ">>",
	"prec":      "prec",
	"succ":      "succ",
	"subset":    "subset",
	"subseteq":  "subset.eq",
	"subsetneq": "subset.neq",
	"supset":    "supset",
	"supseteq":  "supset.eq",
	"in":        "in",
	"notin":     "in.not",
	"ni":        "in.rev",
	"perp":      "perp",
	"parallel":  "parallel",
	"mid":       "divides",
	"models":    "models",
	"vdash":     "tack.r",
	"coloneqq":  ":=",
	"doteq":     "eq.dot",

	// arrows
	"to":                 "->",
	"rightarrow":         "->",
	"leftarrow":          "<-",
	"gets":               "<-",
	"Rightarrow":         "=>",
	"Leftarrow":          "arrow.l.double",
	"leftrightarrow":     "<->",
	"Leftrightarrow":     "<=>",
	"iff":                "<==>",
	"implies":            "==>",
	"impliedby":          "<==",
	"longrightarrow":     "-->",
	"longleftarrow":      "<--",
	"Longrightarrow":     "==>",
	"Longleftarrow":      "<==",
	"longleftrightarrow": "<-->",
	"mapsto":             "|->",
	"longmapsto":         "|-->",
	"uparrow":            "arrow.t",
	"downarrow":          "arrow.b",
	"Uparrow":            "arrow.t.double",
	"Downarrow":          "arrow.b.double",
	"nearrow":            "arrow.tr",
	"searrow":            "arrow.br",
	"hookrightarrow":     "arrow.r.hook",
	"rightleftharpoons":  "harpoons.rtlb",

	// binary operators
	"times":     "times",
	"cdot":      "dot.op",
	"div":       "div",
	"pm":        "plus.minus",
	"mp":        "minus.plus",
	"ast":       "ast",
	"star":      "star",
	"circ":      "circle.small",
	"bullet":    "bullet",
	"oplus":     "plus.circle",
	"ominus":    "minus.circle",
	"otimes":    "times.circle",
	"odot":      "dot.circle",
	"cup":       "union",
	"cap":       "sect",
	"setminus":  "without",
	"wedge":     "and",
	"land":      "and",
	"vee":       "or",
	"lor":       "or",
	"neg":       "not",
	"lnot":      "not",
	"dagger":    "dagger",
	"ddagger":   "dagger.double",
	"backslash": "backslash",

	// miscellaneous
	"forall":       "forall",
	"exists":       "exists",
	"nexists":      "exists.not",
	"partial":      "diff",
	"nabla":        "nabla",
	"infty":        "infinity",
	"emptyset":     "emptyset",
	"varnothing":   "emptyset",
	"ldots":        "dots.h",
	"dots":         "dots.h",
	"cdots":        "dots.h.c",
	"vdots":        "dots.v",
	"ddots":        "dots.down",
	"prime":        "prime",
	"angle":        "angle",
	"triangle":     "triangle",
	"hbar":         "planck.reduce",
	"ell":          "ell",
	"Re":           "Re",
	"Im":           "Im",
	"aleph":        "aleph",
	"therefore":    "therefore",
	"because":      "because",
	"top":          "top",
	"bot":          "bot",
	"square":       "square",
	"checkmark":    "checkmark",
	"degree":       "degree",
	"complement":   "complement",
	"wp":           "wp",
	"mathellipsis": "dots.h",

	// big operators
	"sum":       "sum",
	"prod":      "product",
	"coprod":    "product.co",
	"int":       "integral",
	"iint":      "integral.double",
	"iiint":     "integral.triple",
	"oint":      "integral.cont",
	"bigcup":    "union.big",
	"bigcap":    "sect.big",
	"bigoplus":  "plus.circle.big",
	"bigotimes": "times.circle.big",
	"bigvee":    "or.big",
	"bigwedge":  "and.big",

	// delimiters
	"langle": "angle.l",
	"rangle": "angle.r",
	"lfloor": "floor.l",
	"rfloor": "floor.r",
	"lceil":  "ceil.l",
	"rceil":  "ceil.r",
	"vert":   "|",
	"lvert":  "|",
	"rvert":  "|",
	"Vert":   "||",
	"lVert":  "||",
	"rVert":  "||",
	"lbrace": `\{`,
	"rbrace": `\}`,
	"lbrack": "[",
	"rbrack": "]",

	// spacing
	",":       "thin",
	":":       "med",
	">":       "med",
	";":       "thick",
	" ":       "space",
	"!":       "",
	"quad":    "quad",
	"qquad":   "wide",
	"enspace": "space.en",

	// escaped characters
	"{": `\{`,
	"}": `\}`,
	"|": "||",
	"%": "%",
	"&": `\&`,
	"#": `\#`,
	"_": `\_`,
	"$": `\$`,
}

// operators are named functions Typst already typesets upright.
var operators = map[string]bool{
	"sin": true, "cos": true, "tan": true, "cot": true, "sec": true, "csc": true,
	"arcsin": true, "arccos": true, "arctan": true,
	"sinh": true, "cosh": true, "tanh": true, "coth": true,
	"log": true, "ln": true, "lg": true, "exp": true,
	"lim": true, "limsup": true, "liminf": true,
	"max": true, "min": true, "sup": true, "inf": true,
	"det": true, "dim": true, "ker": true, "deg": true, "arg": true,
	"gcd": true, "hom": true, "Pr": true, "mod": true, "tr": true,
}

// ignored commands only affect LaTeX layout.
var ignored = map[string]bool{
	"limits": true, "nolimits": true,
	"displaystyle": true, "textstyle": true, "scriptstyle": true, "scriptscriptstyle": true,
	"nonumber": true, "notag": true, "centering": true, "noindent": true,
}

// fonts maps font commands onto Typst math font functions.
var fonts = map[string]string{
	"mathbf":     "bold",
	"boldsymbol": "bold",
	"bm":         "bold",
	"mathrm":     "upright",
	"mathit":     "italic",
	"mathbb":     "bb",
	"mathcal":    "cal",
	"mathscr":    "cal",
	"mathfrak":   "frak",
	"mathsf":     "sans",
	"mathtt":     "mono",
	"textsf":     "sans",
	"texttt":     "mono",
}

// accents maps accent commands onto Typst accent functions.
var accents = map[string]string{
	"hat":            "hat",
	"widehat":        "hat",
	"tilde":          "tilde",
	"widetilde":      "tilde",
	"bar":            "macron",
	"overline":       "overline",
	"underline":      "underline",
	"vec":            "arrow",
	"overrightarrow": "arrow",
	"overleftarrow":  "arrow.l",
	"dot":            "dot",
	"ddot":           "dot.double",
	"dddot":          "dot.triple",
	"acute":          "acute",
	"grave":          "grave",
	"breve":          "breve",
	"check":          "caron",
	"mathring":       "circle",
	"overbrace":      "overbrace",
	"underbrace":     "underbrace",
	"cancel":         "cancel",
}

// matrixDelims maps matrix environments onto the delim argument of mat.
var matrixDelims = map[string]string{
	"matrix":      "#none",
	"smallmatrix": "#none",
	"array":       "#none",
	"pmatrix":     `"("`,
	"bmatrix":     `"["`,
	"Bmatrix":     `"{"`,
	"vmatrix":     `"|"`,
	"Vmatrix":     `"||"`,
}

// mathEnvironments switch text mode into display math.
var mathEnvironments = map[string]bool{
	"align": true, "align*": true,
	"equation": true, "equation*": true,
	"gather": true, "gather*": true,
	"multline": true, "multline*": true,
	"eqnarray": true, "eqnarray*": true,
	"displaymath": true, "math": true,
	"flalign": true, "flalign*": true,
	"alignat": true, "alignat*": true,
}

// bigDelimiters size the delimiter that follows them.
var bigDelimiters = map[string]bool{
	"left": true, "right": true, "middle": true,
	"big": true, "Big": true, "bigg": true, "Bigg": true,
	"bigl": true, "bigr": true, "Bigl": true, "Bigr": true,
	"biggl": true, "biggr": true, "Biggl": true, "Biggr": true,
}
